// ABOUTME: Typed events and supporting payloads emitted by an agent runtime
// ABOUTME: One Event struct with a Type discriminant, mirroring the wire JSON

package agent

import "encoding/json"

// EventType identifies the variant of an agent runtime event.
type EventType string

const (
	EventTextDelta         EventType = "text_delta"
	EventTextComplete      EventType = "text_complete"
	EventToolStart         EventType = "tool_start"
	EventToolResult        EventType = "tool_result"
	EventStatus            EventType = "status"
	EventInfo              EventType = "info"
	EventError             EventType = "error"
	EventTypedError        EventType = "typed_error"
	EventThinkingDelta     EventType = "thinking_delta"
	EventThinkingComplete  EventType = "thinking_complete"
	EventPermissionRequest EventType = "permission_request"
	EventComplete          EventType = "complete"
)

// Event is a single item of an agent's event sequence. Variant-specific
// payloads hang off pointer fields; Text is shared by the text, thinking,
// status, info, and error variants. Unrecognized Type values are allowed —
// the coordinator logs and drops them rather than failing the turn.
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text,omitempty"`

	// text_complete: true when produced inside a container-tool execution
	// rather than as the turn's final answer.
	Intermediate bool `json:"intermediate,omitempty"`

	ToolStart  *ToolStart         `json:"tool_start,omitempty"`
	ToolResult *ToolResult        `json:"tool_result,omitempty"`
	Permission *PermissionRequest `json:"permission_request,omitempty"`
	Detail     *ErrorDetail       `json:"detail,omitempty"`
}

// ToolStart announces a tool invocation. ParentToolUseID is optional; when
// absent the coordinator infers the parent from the container-tool stack.
type ToolStart struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Input           json.RawMessage `json:"input,omitempty"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
}

// ToolResult carries the outcome of a previously started tool invocation.
// The runtime may report a result for an id the coordinator never saw start.
type ToolResult struct {
	ID      string `json:"id"`
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// PermissionRequest asks the user to approve a tool invocation. The answer
// flows back through Handle.RespondToPermission.
type PermissionRequest struct {
	ID       string          `json:"id"`
	ToolName string          `json:"tool_name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ErrorDetail is the structured payload of a typed_error event.
type ErrorDetail struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Attachment is a file sent along with a user message. Either Data carries
// the content inline, or StoredID references a file the runtime already
// holds.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
	StoredID string `json:"stored_id,omitempty"`
}

// StoredAttachment references a previously uploaded file by id.
type StoredAttachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
}

// TurnOptions tune a single turn.
type TurnOptions struct {
	Model          string `json:"model,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
}
