package mockteo

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gmkits/edgeone-purge/internal/middleware"
	"github.com/gmkits/edgeone-purge/internal/tc3"
)

const (
	wantAction  = "CreatePurgeTask"
	wantVersion = "2022-09-01"
)

// handleAPI handles POST / requests.
// Tencent Cloud API 3.0 answers with HTTP 200 and an Error object for API-level failures.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	s.state.mu.Lock()
	fi := s.state.failureInjection
	s.state.failureInjection.nextError = nil
	s.state.failureInjection.nextRaw = nil
	s.state.failureInjection.dropRequest = false
	s.state.mu.Unlock()

	if fi.dropRequest {
		dropConnection(w)
		return
	}

	if fi.nextRaw != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fi.nextRaw.status)
		//nolint:errcheck
		io.WriteString(w, fi.nextRaw.body)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAPIError(w, requestID, "RequestSizeLimitExceeded", "request body too large")
			return
		}
		writeAPIError(w, requestID, "InternalError", "failed to read request body")
		return
	}

	if got := r.Header.Get("X-TC-Action"); got != wantAction {
		writeAPIError(w, requestID, "InvalidAction", "unsupported action "+strconv.Quote(got))
		return
	}
	if got := r.Header.Get("X-TC-Version"); got != wantVersion {
		writeAPIError(w, requestID, "NoSuchVersion", "unsupported version "+strconv.Quote(got))
		return
	}

	secretID, ok := s.verifySignature(r, body)
	if !ok {
		writeAPIError(w, requestID, "AuthFailure.SignatureFailure",
			"The provided credentials could not be validated. Please check your signature is correct.")
		return
	}

	if fi.nextError != nil {
		writeAPIError(w, requestID, fi.nextError.code, fi.nextError.message)
		return
	}

	var req purgeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeAPIError(w, requestID, "InvalidParameter", "malformed request body")
		return
	}
	if req.ZoneID == "" || len(req.Targets) == 0 {
		writeAPIError(w, requestID, "MissingParameter", "ZoneId and Targets are required")
		return
	}
	switch req.Type {
	case "purge_host", "purge_url", "purge_prefix", "purge_all", "purge_cache_tag":
	default:
		writeAPIError(w, requestID, "InvalidParameterValue", "unknown Type "+strconv.Quote(req.Type))
		return
	}

	task := PurgeTask{
		JobID:      uuid.New().String(),
		RequestID:  requestID,
		SecretID:   secretID,
		Host:       r.Host,
		Region:     r.Header.Get("X-TC-Region"),
		ZoneID:     req.ZoneID,
		Type:       req.Type,
		Targets:    req.Targets,
		ReceivedAt: time.Now().UTC(),
	}

	s.state.mu.Lock()
	s.state.purges = append(s.state.purges, task)
	s.state.mu.Unlock()

	resp := responseBody{
		JobID:      task.JobID,
		RequestID:  requestID,
		FailedList: fi.failedList,
	}
	if fi.omitJobID {
		resp.JobID = ""
	}

	writeJSON(w, http.StatusOK, envelope{Response: resp})
}

// verifySignature recomputes the Authorization header from the received request.
// It returns the SecretId on success.
func (s *Server) verifySignature(r *http.Request, body []byte) (string, bool) {
	secretID, ok := credentialID(r.Header.Get("Authorization"))
	if !ok {
		return "", false
	}

	s.state.mu.RLock()
	secretKey, known := s.state.credentials[secretID]
	s.state.mu.RUnlock()
	if !known {
		return "", false
	}

	ts, err := strconv.ParseInt(r.Header.Get("X-TC-Timestamp"), 10, 64)
	if err != nil {
		return "", false
	}

	sc := tc3.NewSigningContext(time.Unix(ts, 0))
	cr := tc3.NewCanonicalRequest(r.Header.Get("Content-Type"), r.Host, r.Header.Get("X-TC-Action"), body)
	if !tc3.Verify(r.Header.Get("Authorization"), secretID, secretKey, sc, cr) {
		return "", false
	}
	return secretID, true
}

// credentialID extracts the SecretId from "TC3-HMAC-SHA256 Credential=<id>/<scope>, ...".
func credentialID(authorization string) (string, bool) {
	_, params, ok := strings.Cut(authorization, " ")
	if !ok {
		return "", false
	}
	for _, part := range strings.Split(params, ", ") {
		if v, found := strings.CutPrefix(part, "Credential="); found {
			id, _, _ := strings.Cut(v, "/")
			return id, id != ""
		}
	}
	return "", false
}

// dropConnection closes the underlying connection without writing a response.
func dropConnection(w http.ResponseWriter) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	//nolint:errcheck
	conn.Close()
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	w.Write(data)
}

func writeAPIError(w http.ResponseWriter, requestID, code, message string) {
	writeJSON(w, http.StatusOK, envelope{Response: responseBody{
		RequestID: requestID,
		Error:     &errorObject{Code: code, Message: message},
	}})
}
