package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/logging"
)

// logRequest tags each request with an ID and logs method, path, and timing.
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		handler(w, r)
		logging.L_debug("server: request", "id", reqID, "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "elapsed", time.Since(start).String())
	}
}

// writeJSON serializes a response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.L_error("server: failed to encode response", "error", err)
	}
}

// writeError sends {"error": "..."} with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleState routes GET and POST for /internal/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetState(w, r)
	case http.MethodPost:
		s.handleSetState(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleGetState serves the current record, reading through to the store.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	rec, source, err := s.store.Load()
	if err != nil {
		logging.L_error("server: state load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"provider":     rec.Provider,
		"model_id":     rec.ModelID,
		"last_updated": rec.LastUpdated,
		"source":       string(source),
	})
}

// handleSetState validates and persists a new record.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		ModelID  string `json:"model_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Provider = strings.TrimSpace(req.Provider)
	req.ModelID = strings.TrimSpace(req.ModelID)
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}
	if req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "model_id is required")
		return
	}

	if err := s.store.Save(req.Provider, req.ModelID); err != nil {
		logging.L_error("server: state save failed", "provider", req.Provider, "model", req.ModelID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save state")
		return
	}

	logging.L_info("server: state updated", "provider", req.Provider, "model", req.ModelID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"message":       "state updated",
		"provider":      req.Provider,
		"model_id":      req.ModelID,
		"saved_to_file": true,
	})
}

// handleHealth is a liveness probe for the front-end's reachability check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
