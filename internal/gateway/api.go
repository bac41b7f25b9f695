// ABOUTME: HTTP API handlers for session operations and the SSE event stream
// ABOUTME: Turn initiation returns immediately; results arrive via /api/events

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/glasshouse-dev/glasshouse/internal/agent"
	"github.com/glasshouse-dev/glasshouse/internal/coordinator"
	"github.com/glasshouse-dev/glasshouse/internal/store"
)

// CreateSessionRequest is the JSON request body for POST /api/sessions.
type CreateSessionRequest struct {
	WorkspaceRoot string `json:"workspace_root"`
	Name          string `json:"name,omitempty"`
}

// SendMessageRequest is the JSON request body for POST /api/sessions/{id}/messages.
// IdempotencyKey is optional; a retried send carrying a key already seen
// within the dedupe window is acknowledged without starting a second turn.
type SendMessageRequest struct {
	Text              string                   `json:"text"`
	IdempotencyKey    string                   `json:"idempotency_key,omitempty"`
	Attachments       []agent.Attachment       `json:"attachments,omitempty"`
	StoredAttachments []agent.StoredAttachment `json:"stored_attachments,omitempty"`
	Options           *agent.TurnOptions       `json:"options,omitempty"`
}

// SendMessageResponse acknowledges an accepted turn. Status is "accepted"
// for a new turn, "duplicate" for a suppressed retry.
type SendMessageResponse struct {
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
}

// UpdateSessionRequest is the JSON request body for PATCH /api/sessions/{id}.
// Absent fields are left untouched.
type UpdateSessionRequest struct {
	Name       *string   `json:"name,omitempty"`
	Flagged    *bool     `json:"flagged,omitempty"`
	Unread     *bool     `json:"unread,omitempty"`
	Labels     *[]string `json:"labels,omitempty"`
	WorkingDir *string   `json:"working_dir,omitempty"`
}

// PermissionRequest is the JSON request body for POST /api/sessions/{id}/permission.
type PermissionRequest struct {
	RequestID   string `json:"request_id"`
	Allowed     bool   `json:"allowed"`
	AlwaysAllow bool   `json:"always_allow,omitempty"`
}

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Subscribers      int `json:"subscribers"`
	ResidentSessions int `json:"resident_sessions"`
}

// handleEvents handles GET /api/events: a persistent unidirectional SSE
// stream carrying every outward event published after the subscription
// opened, one JSON object per data frame. The synthetic connected event is
// always the first frame.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, subID := g.broadcaster.Subscribe(r.Context())
	g.logger.Debug("viewer connected", "sub_id", subID)

	for data := range ch {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			g.broadcaster.Unsubscribe(subID)
			g.logger.Debug("viewer write failed", "sub_id", subID, "error", err)
			return
		}
		flusher.Flush()
	}
}

// handleSendMessage handles POST /api/sessions/{id}/messages. It returns 202
// once the user message is accepted; completion and errors arrive solely via
// the event stream.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	req, err := parseSendRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.IdempotencyKey != "" && g.dedupe.CheckAndMark(sessionID+":"+req.IdempotencyKey) {
		g.logger.Debug("duplicate message send suppressed",
			"session_id", sessionID, "idempotency_key", req.IdempotencyKey)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SendMessageResponse{Status: "duplicate"})
		return
	}

	messageID, err := g.coordinator.SendMessage(r.Context(), coordinator.SendRequest{
		SessionID:         sessionID,
		Text:              req.Text,
		Attachments:       req.Attachments,
		StoredAttachments: req.StoredAttachments,
		Options:           req.Options,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		g.logger.Error("failed to send message", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SendMessageResponse{MessageID: messageID, Status: "accepted"})
}

// handleCancel handles POST /api/sessions/{id}/cancel.
func (g *Gateway) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	g.coordinator.CancelProcessing(sessionID, false)
	w.WriteHeader(http.StatusNoContent)
}

// handlePermission handles POST /api/sessions/{id}/permission.
func (g *Gateway) handlePermission(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req PermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RequestID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	if !g.coordinator.RespondToPermission(sessionID, req.RequestID, req.Allowed, req.AlwaysAllow) {
		g.sendJSONError(w, http.StatusNotFound, "no agent handle for session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateSession handles POST /api/sessions.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.WorkspaceRoot == "" {
		g.sendJSONError(w, http.StatusBadRequest, "workspace_root is required")
		return
	}

	sess, err := g.coordinator.CreateSession(r.Context(), req.WorkspaceRoot, req.Name)
	if err != nil {
		g.logger.Error("failed to create session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

// handleListSessions handles GET /api/sessions with optional ?workspace= filter.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := g.coordinator.ListSessions(r.Context(), r.URL.Query().Get("workspace"))
	if err != nil {
		g.logger.Error("failed to list sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// handleGetSession handles GET /api/sessions/{id}, returning the session
// with its message timeline.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.coordinator.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		g.logger.Error("failed to get session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// handleUpdateSession handles PATCH /api/sessions/{id}.
func (g *Gateway) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	update := store.MetadataUpdate{
		Name:       req.Name,
		Flagged:    req.Flagged,
		Unread:     req.Unread,
		Labels:     req.Labels,
		WorkingDir: req.WorkingDir,
	}
	if err := g.coordinator.UpdateMetadata(r.Context(), r.PathValue("id"), update); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		g.logger.Error("failed to update session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := g.coordinator.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		g.logger.Error("failed to delete session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListWorkspaces handles GET /api/workspaces.
func (g *Gateway) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := g.coordinator.ListWorkspaces(r.Context())
	if err != nil {
		g.logger.Error("failed to list workspaces", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(workspaces)
}

// handleStatus handles GET /api/status. Diagnostics only.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{
		Subscribers:      g.broadcaster.SubscriberCount(),
		ResidentSessions: g.coordinator.ResidentSessionCount(),
	})
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseSendRequest parses and validates a SendMessageRequest from the given
// reader. Returns an error if the JSON is invalid or text is missing.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Text == "" {
		return nil, errors.New("text is required")
	}
	return &req, nil
}
