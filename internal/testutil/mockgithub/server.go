// Package mockgithub provides a mock GitHub Actions run-history API for testing.
package mockgithub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gmkits/edgeone-purge/internal/middleware"
)

// Run is a workflow run as served by the run list endpoints.
type Run struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type runsResponse struct {
	TotalCount   int   `json:"total_count"`
	WorkflowRuns []Run `json:"workflow_runs"`
}

// Server is a mock GitHub API server.
type Server struct {
	srv        *httptest.Server
	mu         sync.RWMutex
	token      string
	repository string
	runs       []Run
	nextID     int64
	requests   int
	lastQuery  map[string]string
	lastPath   string
	failStatus int
}

// New starts a mock serving runs for repository to callers presenting token.
func New(token, repository string) *Server {
	s := &Server{
		token:      token,
		repository: repository,
		nextID:     1000,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID("X-GitHub-Request-Id"))
	r.Get("/repos/{owner}/{repo}/actions/runs", s.handleListRuns)
	r.Get("/repos/{owner}/{repo}/actions/workflows/{workflow}/runs", s.handleListRuns)
	s.srv = httptest.NewServer(r)
	return s
}

// URL returns the base URL of the running mock server.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// AddRun records a completed run of workflow that finished at completedAt.
// It returns the run ID.
func (s *Server) AddRun(workflow, conclusion string, completedAt time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.runs = append(s.runs, Run{
		ID:         s.nextID,
		Name:       workflow,
		Path:       WorkflowPath(workflow),
		Status:     "completed",
		Conclusion: conclusion,
		CreatedAt:  completedAt.Add(-2 * time.Minute).UTC().Format(time.RFC3339),
		UpdatedAt:  completedAt.UTC().Format(time.RFC3339),
	})
	return s.nextID
}

// WorkflowPath is the file path AddRun assigns to runs of workflow,
// for example ".github/workflows/deploy-docs.yml" for "Deploy Docs".
func WorkflowPath(workflow string) string {
	return ".github/workflows/" + strings.ToLower(strings.ReplaceAll(workflow, " ", "-")) + ".yml"
}

// AddRawRun appends run verbatim, allowing malformed timestamps.
func (s *Server) AddRawRun(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
}

// FailWith makes every request answer with status.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// Requests returns how many list requests were received.
func (s *Server) Requests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests
}

// LastQuery returns the query parameters of the most recent request.
func (s *Server) LastQuery() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQuery
}

// LastPath returns the URL path of the most recent request.
func (s *Server) LastPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPath
}

// handleListRuns serves both the repository-wide and the per-workflow run list.
// Runs are returned newest first by creation time and paged with per_page and
// page, like the real API. The workflow path parameter matches a run's file name.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests++
	s.lastPath = r.URL.Path
	s.lastQuery = map[string]string{}
	for k := range r.URL.Query() {
		s.lastQuery[k] = r.URL.Query().Get(k)
	}
	failStatus := s.failStatus
	runs := make([]Run, len(s.runs))
	copy(runs, s.runs)
	s.mu.Unlock()

	if failStatus != 0 {
		writeJSON(w, failStatus, map[string]string{"message": http.StatusText(failStatus)})
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+s.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}

	if chi.URLParam(r, "owner")+"/"+chi.URLParam(r, "repo") != s.repository {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}

	query := r.URL.Query()
	status := query.Get("status")
	workflow := chi.URLParam(r, "workflow")
	filtered := runs[:0]
	for _, run := range runs {
		if status != "" && run.Status != status {
			continue
		}
		if workflow != "" && !matchesWorkflow(run, workflow) {
			continue
		}
		filtered = append(filtered, run)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt > filtered[j].CreatedAt
	})

	total := len(filtered)
	perPage, err := strconv.Atoi(query.Get("per_page"))
	if err != nil || perPage <= 0 {
		perPage = 30
	}
	page, err := strconv.Atoi(query.Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)

	writeJSON(w, http.StatusOK, runsResponse{TotalCount: total, WorkflowRuns: filtered[start:end]})
}

func matchesWorkflow(run Run, workflow string) bool {
	return path.Base(run.Path) == workflow
}
