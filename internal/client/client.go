// ABOUTME: Go client for the glasshouse HTTP API
// ABOUTME: Wraps session operations and turn initiation for viewer programs

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/glasshouse-dev/glasshouse/internal/agent"
	"github.com/glasshouse-dev/glasshouse/internal/session"
	"github.com/glasshouse-dev/glasshouse/internal/store"
)

// ErrNotFound mirrors a 404 from the server.
var ErrNotFound = errors.New("not found")

// Client talks to a glasshouse server. A zero token means the server runs
// with auth disabled.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL (e.g. "http://127.0.0.1:8265").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessageRequest mirrors the server's message-send body.
type SendMessageRequest struct {
	Text              string                   `json:"text"`
	IdempotencyKey    string                   `json:"idempotency_key,omitempty"`
	Attachments       []agent.Attachment       `json:"attachments,omitempty"`
	StoredAttachments []agent.StoredAttachment `json:"stored_attachments,omitempty"`
	Options           *agent.TurnOptions       `json:"options,omitempty"`
}

// SendMessageResponse is the server's acknowledgement of a send.
type SendMessageResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// SessionUpdate carries a partial metadata update; nil fields are untouched.
type SessionUpdate struct {
	Name       *string   `json:"name,omitempty"`
	Flagged    *bool     `json:"flagged,omitempty"`
	Unread     *bool     `json:"unread,omitempty"`
	Labels     *[]string `json:"labels,omitempty"`
	WorkingDir *string   `json:"working_dir,omitempty"`
}

// ServerStatus is the server's diagnostic snapshot.
type ServerStatus struct {
	Subscribers      int `json:"subscribers"`
	ResidentSessions int `json:"resident_sessions"`
}

// CreateSession creates a new session rooted at the given workspace.
func (c *Client) CreateSession(ctx context.Context, workspaceRoot, name string) (*session.Session, error) {
	body := map[string]string{"workspace_root": workspaceRoot}
	if name != "" {
		body["name"] = name
	}
	var sess session.Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession fetches a session with its message timeline.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	var sess session.Session
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions lists sessions, optionally filtered by workspace root.
func (c *Client) ListSessions(ctx context.Context, workspaceRoot string) ([]*session.Session, error) {
	path := "/api/sessions"
	if workspaceRoot != "" {
		path += "?workspace=" + url.QueryEscape(workspaceRoot)
	}
	var sessions []*session.Session
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateSession applies a partial metadata update.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(sessionID), update, nil)
}

// DeleteSession removes a session and its stored timeline.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// SendMessage submits a user message, starting (or redirecting) a turn. The
// returned acknowledgement arrives before the turn runs; progress is
// delivered on the event stream.
func (c *Client) SendMessage(ctx context.Context, sessionID string, req SendMessageRequest) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel stops the session's in-flight turn, if any.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/cancel", nil, nil)
}

// RespondToPermission answers a pending permission request.
func (c *Client) RespondToPermission(ctx context.Context, sessionID, requestID string, allowed, alwaysAllow bool) error {
	body := map[string]any{
		"request_id":   requestID,
		"allowed":      allowed,
		"always_allow": alwaysAllow,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/permission", body, nil)
}

// ListWorkspaces lists workspaces known to the server.
func (c *Client) ListWorkspaces(ctx context.Context) ([]*store.Workspace, error) {
	var workspaces []*store.Workspace
	if err := c.doJSON(ctx, http.MethodGet, "/api/workspaces", nil, &workspaces); err != nil {
		return nil, err
	}
	return workspaces, nil
}

// Status fetches the server's diagnostic counters.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// doJSON performs one request/response cycle with JSON bodies both ways.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
