package mockteo

import (
	"encoding/json"
	"net/http"
)

// AddCredentialsRequest is the request body for POST /admin/credentials
type AddCredentialsRequest struct {
	SecretID  string `json:"secretId"`
	SecretKey string `json:"secretKey"`
}

// handleAdminAddCredentials handles POST /admin/credentials
func (s *Server) handleAdminAddCredentials(w http.ResponseWriter, r *http.Request) {
	var req AddCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SecretID == "" || req.SecretKey == "" {
		http.Error(w, "secretId and secretKey are required", http.StatusBadRequest)
		return
	}

	s.AddCredentials(req.SecretID, req.SecretKey)
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminReset handles DELETE /admin/reset
// Clears recorded purges, credentials and failure injection state.
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.credentials = make(map[string]string)
	s.state.purges = nil
	s.state.failureInjection = FailureInjection{}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminState handles GET /admin/state
func (s *Server) handleAdminState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{Purges: s.Purges()})
}
