// Package handlers is the HTTP protocol layer in front of the session
// engine. Known sessions are touched and served directly; unrecognized
// handles go through the restoration controller, and its outcome decides
// the response status.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"go-mcp-session-engine/internal/instance"
	"go-mcp-session-engine/internal/restore"
	"go-mcp-session-engine/internal/session"
	"go-mcp-session-engine/pkg/logger"
)

// SessionHandler serves the session and message endpoints.
type SessionHandler struct {
	registry *session.Registry
	restorer *restore.Controller
}

// NewSessionHandler creates a handler over a registry and controller.
func NewSessionHandler(registry *session.Registry, restorer *restore.Controller) *SessionHandler {
	return &SessionHandler{registry: registry, restorer: restorer}
}

// Register mounts the handler's routes on a mux.
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/message", h.handleMessage)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.HandleFunc("/sessions/", h.handleSession)
}

type messageResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	WarmStart bool   `json:"warm_start,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type createRequest struct {
	Handle  string           `json:"handle,omitempty"`
	Context instance.Context `json:"context"`
}

type createResponse struct {
	Handle string `json:"handle"`
}

// handleMessage accepts a protocol message against an existing session.
// A handle this process does not hold triggers a warm start: on success
// the message is served against the restored session in the same
// request, with no extra round trip for the client.
func (h *SessionHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	sid := r.URL.Query().Get("sessionId")
	if sid == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing sessionId"})
		return
	}

	if _, ok := h.registry.Get(sid); ok {
		h.registry.Touch(sid)
		writeJSON(w, http.StatusOK, messageResponse{Status: "accepted", SessionID: sid})
		return
	}

	outcome := h.restorer.Restore(r.Context(), sid)
	switch outcome.Status {
	case restore.StatusRestored:
		h.registry.Touch(sid)
		writeJSON(w, http.StatusOK, messageResponse{Status: "accepted", SessionID: sid, WarmStart: true})
	case restore.StatusRejected:
		logger.Log.Warn("Rejected message for session %s: %s", sid, outcome.Reason)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session not available: " + outcome.Reason})
	case restore.StatusTimedOut:
		writeJSON(w, http.StatusRequestTimeout, errorResponse{Error: "session restoration timed out"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session restoration failed"})
	}
}

// handleSessions serves the collection: GET returns a snapshot of all
// live records, POST creates a session (generating a handle when the
// client supplies none).
func (h *SessionHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.registry.ListRecords())
	case http.MethodPost:
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		handle := req.Handle
		if handle == "" {
			handle = uuid.New().String()
		}
		if !h.registry.Create(handle, req.Context) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid handle or instance context"})
			return
		}
		writeJSON(w, http.StatusCreated, createResponse{Handle: handle})
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleSession serves one session: GET, PUT (create with an explicit
// handle) and DELETE.
func (h *SessionHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	handle := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if handle == "" || strings.Contains(handle, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, ok := h.registry.Get(handle)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		var ictx instance.Context
		if err := json.NewDecoder(r.Body).Decode(&ictx); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if !h.registry.Create(handle, ictx) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid handle or instance context"})
			return
		}
		writeJSON(w, http.StatusCreated, createResponse{Handle: handle})
	case http.MethodDelete:
		if !h.registry.Delete(handle) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.Error("Failed to encode response body: %v", err)
	}
}
