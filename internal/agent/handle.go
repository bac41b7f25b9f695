// ABOUTME: Contract consumed from the external agent runtime
// ABOUTME: Handle drives one session's turns; Factory creates handles lazily

package agent

import "context"

// AbortReason explains why a turn was force-aborted.
type AbortReason string

const (
	// AbortUserStop is an explicit cancellation by the user.
	AbortUserStop AbortReason = "user_stop"

	// AbortRedirect supersedes an in-flight turn with a newer user message.
	AbortRedirect AbortReason = "redirect"
)

// SessionConfig is everything a runtime needs to open a handle for a session.
type SessionConfig struct {
	SessionID  string
	WorkingDir string
}

// Handle is an exclusive connection to the agent runtime for one session.
// The coordinator creates it lazily on the first turn and reuses it across
// turns.
type Handle interface {
	// Chat sends a user message and returns the finite event sequence for
	// the resulting turn. The sequence ends with a terminal complete event,
	// or the channel closes early after an error event. Chat itself fails
	// only when the runtime cannot accept the message at all.
	Chat(ctx context.Context, text string, attachments []Attachment, opts *TurnOptions) (<-chan Event, error)

	// ForceAbort signals the runtime to stop the in-flight turn. Cooperative
	// and idempotent: aborting an idle handle is a no-op.
	ForceAbort(reason AbortReason)

	// RespondToPermission resolves a pending permission request. Returns
	// false if no request with that id is pending.
	RespondToPermission(requestID string, allowed, alwaysAllow bool) bool

	// Close releases the handle's resources.
	Close() error
}

// Factory creates handles. The production implementation launches an agent
// CLI subprocess per session; tests substitute scripted runtimes.
type Factory interface {
	CreateHandle(cfg SessionConfig) (Handle, error)
}
