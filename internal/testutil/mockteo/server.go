package mockteo

import (
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"

	"github.com/gmkits/edgeone-purge/internal/middleware"
)

// maxBodyBytes caps CreatePurgeTask request bodies.
const maxBodyBytes = 1 << 20

// Server is a mock EdgeOne API server for testing.
type Server struct {
	srv    *httptest.Server
	router chi.Router
	state  *State
	logger *slog.Logger
}

// New creates and starts a mock EdgeOne API server.
func New() *Server {
	return newServer(nil)
}

// NewWithLogger creates a mock server that logs every request and response.
func NewWithLogger(logger *slog.Logger) *Server {
	return newServer(logger)
}

// NewHandler creates a mock server without starting an httptest listener.
// Use Handler() to mount it on a standalone http.Server.
func NewHandler(logger *slog.Logger) *Server {
	s := &Server{
		state:  &State{credentials: make(map[string]string)},
		logger: logger,
	}
	s.router = s.routes()
	return s
}

func newServer(logger *slog.Logger) *Server {
	s := NewHandler(logger)
	s.srv = httptest.NewServer(s.router)
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID("X-TC-RequestId"))
	r.Use(AccessLog(s.logger))

	r.With(middleware.MaxBodySize(maxBodyBytes)).Post("/", s.handleAPI)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/state", s.handleAdminState)
		r.Delete("/reset", s.handleAdminReset)
		r.Post("/credentials", s.handleAdminAddCredentials)
	})

	return r
}

// URL returns the base URL of the running mock server.
func (s *Server) URL() string {
	if s.srv == nil {
		return ""
	}
	return s.srv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	if s.srv != nil {
		s.srv.Close()
	}
}

// Handler returns the router for use with a standalone http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddCredentials registers an API key pair accepted by the signature check.
func (s *Server) AddCredentials(secretID, secretKey string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.credentials[secretID] = secretKey
}

// Purges returns a copy of the accepted purge tasks in arrival order.
func (s *Server) Purges() []PurgeTask {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	out := make([]PurgeTask, len(s.state.purges))
	copy(out, s.state.purges)
	return out
}

// SetNextError makes the next request fail with the given API error.
func (s *Server) SetNextError(code, message string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.failureInjection.nextError = &injectedError{code: code, message: message}
}

// SetNextRawResponse makes the next request return status and body verbatim.
func (s *Server) SetNextRawResponse(status int, body string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.failureInjection.nextRaw = &rawResponse{status: status, body: body}
}

// SetNextDropConnection makes the next request hang up without a response.
func (s *Server) SetNextDropConnection() {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.failureInjection.dropRequest = true
}

// SetFailedTargets makes subsequent purges report targets as failed.
func (s *Server) SetFailedTargets(reason string, targets ...string) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.failureInjection.failedList = append(s.state.failureInjection.failedList,
		FailReason{Reason: reason, Targets: targets})
}

// SetOmitJobID makes subsequent successful responses leave out JobId.
func (s *Server) SetOmitJobID(omit bool) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.failureInjection.omitJobID = omit
}
