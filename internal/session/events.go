// ABOUTME: Outward conversation events pushed to connected viewers
// ABOUTME: Flat tagged structs serialized as one JSON object per SSE frame

package session

import (
	"encoding/json"
	"time"
)

// EventType discriminates outward event variants. The set is closed on the
// producing side; viewers must tolerate types they do not recognize.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventUserMessage       EventType = "user_message"
	EventTextDelta         EventType = "text_delta"
	EventTextComplete      EventType = "text_complete"
	EventToolStart         EventType = "tool_start"
	EventToolResult        EventType = "tool_result"
	EventStatus            EventType = "status"
	EventInfo              EventType = "info"
	EventError             EventType = "error"
	EventThinkingDelta     EventType = "thinking_delta"
	EventThinkingComplete  EventType = "thinking_complete"
	EventPermissionRequest EventType = "permission_request"
	EventComplete          EventType = "complete"
)

// Event is one unit of the conversation timeline pushed to viewers. It is a
// flat object: Type and SessionID are always set (SessionID is empty only on
// the synthetic connected event), everything else is variant-specific.
// The per-session timeline is strictly append-only — events are never
// retracted or rewritten.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`

	// connected
	Timestamp string `json:"timestamp,omitempty"`

	// user_message, text_complete, tool messages
	MessageID string `json:"message_id,omitempty"`

	// user_message ("accepted"), status passthrough
	Status string `json:"status,omitempty"`

	// text_delta / text_complete / thinking_* / info / error payload text
	Text string `json:"text,omitempty"`

	TurnID          string `json:"turn_id,omitempty"`
	ParentToolUseID string `json:"parent_tool_use_id,omitempty"`

	// tool_start / tool_result
	ToolName   string          `json:"tool_name,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolResult string          `json:"tool_result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`

	// permission_request
	RequestID string `json:"request_id,omitempty"`
}

// NewConnectedEvent builds the synthetic event delivered to every subscriber
// on open, carrying the server timestamp that anchors its stream.
func NewConnectedEvent(now time.Time) *Event {
	return &Event{
		Type:      EventConnected,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
