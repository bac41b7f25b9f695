// ABOUTME: Core conversation data types shared across the coordinator and gateway
// ABOUTME: Defines Session, Message, roles, and tool status values

package session

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolStatus tracks the lifecycle of a tool message. A tool message is
// created pending on tool_start and mutated in place to completed on
// tool_result — never duplicated.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusCompleted ToolStatus = "completed"
)

// Message is one conversational turn unit within a session. Tool-specific
// fields are only set for RoleTool messages. ParentToolUseID places the
// message inside the tool-call tree: empty means top level.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	ToolName   string          `json:"tool_name,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolStatus ToolStatus      `json:"tool_status,omitempty"`
	ToolResult string          `json:"tool_result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`

	// Display hints supplied by the agent runtime (e.g. "Searching the web").
	Intent      string `json:"intent,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	TurnID          string `json:"turn_id,omitempty"`
	ParentToolUseID string `json:"parent_tool_use_id,omitempty"`
}

// Session is the durable identity of one conversation. Storage owns it; the
// coordinator holds a transient cached copy while the session is resident.
type Session struct {
	ID            string    `json:"id"`
	WorkspaceRoot string    `json:"workspace_root"`
	Name          string    `json:"name"`
	Messages      []*Message `json:"messages,omitempty"`
	Flagged       bool      `json:"flagged"`
	Unread        bool      `json:"unread"`
	Labels        []string  `json:"labels,omitempty"`
	WorkingDir    string    `json:"working_dir,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
