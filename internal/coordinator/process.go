// ABOUTME: The per-session event-processing state machine
// ABOUTME: Maps one inbound agent event to state mutations plus outward events

package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/glasshouse-dev/glasshouse/internal/agent"
	"github.com/glasshouse-dev/glasshouse/internal/session"
)

// containerTools are tools whose invocation logically hosts nested tool
// calls (task/subagent launchers). Their ids are tracked on the parent
// stack so nested tools without an explicit parent inherit them.
var containerTools = map[string]bool{
	"Task":       true,
	"TaskOutput": true,
}

func isContainerTool(name string) bool {
	return containerTools[name]
}

// processAgentEvent applies one inbound agent event to the session's state
// and publishes the resulting outward events. Returns done=true on the
// terminal complete event, and superseded=true when the turn identified by
// gen is no longer current (its events must not be attributed).
//
// Unknown variants are logged and dropped — they must never fault the turn.
func (c *Coordinator) processAgentEvent(sessionID string, gen int, ev agent.Event) (done, superseded bool) {
	c.mu.Lock()
	ms, ok := c.sessions[sessionID]
	if !ok || ms.generation != gen {
		c.mu.Unlock()
		return false, true
	}

	var out []*session.Event

	switch ev.Type {
	case agent.EventTextDelta:
		// First delta since the last reset captures the owning container,
		// so an eventual intermediate text message lands under the right
		// parent even if the container closes before the text finalizes.
		if ms.streamingText.Len() == 0 {
			ms.pendingTextParent = stackTop(ms.parentToolStack)
		}
		ms.streamingText.WriteString(ev.Text)
		out = append(out, &session.Event{
			Type:      session.EventTextDelta,
			SessionID: sessionID,
			Text:      ev.Text,
			TurnID:    ms.turnID,
		})

	case agent.EventTextComplete:
		// Only intermediate text (produced inside a container-tool
		// execution) is attributed to a parent; the turn's final answer is
		// always top level.
		parent := ""
		if ev.Intermediate {
			parent = ms.pendingTextParent
		}
		msg := &session.Message{
			ID:              uuid.New().String(),
			Role:            session.RoleAssistant,
			Content:         ev.Text,
			Timestamp:       time.Now(),
			TurnID:          ms.turnID,
			ParentToolUseID: parent,
		}
		ms.session.Messages = append(ms.session.Messages, msg)
		ms.streamingText.Reset()
		ms.pendingTextParent = ""
		out = append(out, &session.Event{
			Type:            session.EventTextComplete,
			SessionID:       sessionID,
			MessageID:       msg.ID,
			Text:            ev.Text,
			TurnID:          ms.turnID,
			ParentToolUseID: parent,
		})

	case agent.EventToolStart:
		if ev.ToolStart == nil {
			c.logger.Warn("tool_start event without payload", "session_id", sessionID)
			break
		}
		ts := ev.ToolStart
		ms.pendingTools[ts.ID] = ts.Name

		parent := ""
		if isContainerTool(ts.Name) {
			// Containers are always top level; they never inherit a parent
			// and an explicit parent id on the event is ignored for them.
			ms.parentToolStack = append(ms.parentToolStack, ts.ID)
		} else {
			parent = ts.ParentToolUseID
			if parent == "" {
				parent = stackTop(ms.parentToolStack)
			}
			if parent != "" {
				ms.toolToParent[ts.ID] = parent
			}
		}

		msg := &session.Message{
			ID:              uuid.New().String(),
			Role:            session.RoleTool,
			Timestamp:       time.Now(),
			ToolName:        ts.Name,
			ToolUseID:       ts.ID,
			ToolInput:       ts.Input,
			ToolStatus:      session.ToolStatusPending,
			TurnID:          ms.turnID,
			ParentToolUseID: parent,
		}
		ms.session.Messages = append(ms.session.Messages, msg)
		out = append(out, &session.Event{
			Type:            session.EventToolStart,
			SessionID:       sessionID,
			MessageID:       msg.ID,
			ToolName:        ts.Name,
			ToolUseID:       ts.ID,
			ToolInput:       ts.Input,
			TurnID:          ms.turnID,
			ParentToolUseID: parent,
		})

	case agent.EventToolResult:
		if ev.ToolResult == nil {
			c.logger.Warn("tool_result event without payload", "session_id", sessionID)
			break
		}
		tr := ev.ToolResult

		// The runtime may report a result for an id never seen started.
		name, known := ms.pendingTools[tr.ID]
		if !known {
			name = "unknown"
		}
		delete(ms.pendingTools, tr.ID)

		// Tools may close out of order relative to the stack: removal is
		// by value, not by popping.
		ms.parentToolStack = removeByValue(ms.parentToolStack, tr.ID)

		mappedParent := ms.toolToParent[tr.ID]
		delete(ms.toolToParent, tr.ID)

		parent := mappedParent
		existing := findToolMessage(ms.session.Messages, tr.ID)
		if existing != nil {
			existing.Content = tr.Content
			existing.ToolResult = tr.Content
			existing.ToolStatus = session.ToolStatusCompleted
			existing.IsError = tr.IsError
			// Prefer the parent recorded at start time; the map entry may
			// already have been evicted.
			if existing.ParentToolUseID != "" {
				parent = existing.ParentToolUseID
			}
		}

		result := &session.Event{
			Type:            session.EventToolResult,
			SessionID:       sessionID,
			ToolName:        name,
			ToolUseID:       tr.ID,
			ToolResult:      tr.Content,
			IsError:         tr.IsError,
			TurnID:          ms.turnID,
			ParentToolUseID: parent,
		}
		if existing != nil {
			result.MessageID = existing.ID
		}
		out = append(out, result)

	case agent.EventStatus:
		out = append(out, &session.Event{
			Type:      session.EventStatus,
			SessionID: sessionID,
			Status:    ev.Text,
		})

	case agent.EventInfo:
		out = append(out, &session.Event{
			Type:      session.EventInfo,
			SessionID: sessionID,
			Text:      ev.Text,
		})

	case agent.EventError:
		out = append(out, &session.Event{
			Type:      session.EventError,
			SessionID: sessionID,
			Text:      ev.Text,
		})

	case agent.EventTypedError:
		text := ev.Text
		if ev.Detail != nil {
			if ev.Detail.Message != "" {
				text = ev.Detail.Message
			}
			c.logger.Error("agent typed error",
				"session_id", sessionID,
				"code", ev.Detail.Code,
				"message", ev.Detail.Message,
				"data", string(ev.Detail.Data))
		}
		out = append(out, &session.Event{
			Type:      session.EventError,
			SessionID: sessionID,
			Text:      text,
		})

	case agent.EventThinkingDelta:
		out = append(out, &session.Event{
			Type:      session.EventThinkingDelta,
			SessionID: sessionID,
			Text:      ev.Text,
			TurnID:    ms.turnID,
		})

	case agent.EventThinkingComplete:
		out = append(out, &session.Event{
			Type:      session.EventThinkingComplete,
			SessionID: sessionID,
			Text:      ev.Text,
			TurnID:    ms.turnID,
		})

	case agent.EventPermissionRequest:
		pr := &session.Event{
			Type:      session.EventPermissionRequest,
			SessionID: sessionID,
			TurnID:    ms.turnID,
		}
		if ev.Permission != nil {
			pr.RequestID = ev.Permission.ID
			pr.ToolName = ev.Permission.ToolName
			pr.ToolInput = ev.Permission.Input
		}
		out = append(out, pr)

	case agent.EventComplete:
		ms.isProcessing = false
		done = true
		out = append(out, &session.Event{
			Type:      session.EventComplete,
			SessionID: sessionID,
			TurnID:    ms.turnID,
		})

	default:
		c.logger.Debug("unrecognized agent event variant",
			"session_id", sessionID,
			"type", string(ev.Type))
	}

	// Published before the lock is released: a frame admitted under this
	// generation is serialized ahead of any superseding send's user message.
	for _, event := range out {
		c.broadcaster.Publish(event)
	}
	c.mu.Unlock()

	return done, false
}

// stackTop returns the last element of the stack, or "" when empty.
func stackTop(stack []string) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}

// removeByValue removes the first occurrence of v from the stack, wherever
// it sits. LIFO discipline is not assumed.
func removeByValue(stack []string, v string) []string {
	for i, s := range stack {
		if s == v {
			return append(stack[:i], stack[i+1:]...)
		}
	}
	return stack
}

// findToolMessage locates the tool message for an invocation id. At most one
// exists per session at any time.
func findToolMessage(messages []*session.Message, toolUseID string) *session.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleTool && messages[i].ToolUseID == toolUseID {
			return messages[i]
		}
	}
	return nil
}
