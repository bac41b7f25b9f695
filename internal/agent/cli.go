// ABOUTME: Subprocess-backed agent runtime adapter speaking JSON lines
// ABOUTME: Spawns the configured agent CLI per turn and decodes its event stream

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// maxEventLineBytes bounds a single stdout event line. Tool results can carry
// large file contents, so this is generous.
const maxEventLineBytes = 8 * 1024 * 1024

// abortKillGrace is how long an evicted process gets to exit on SIGTERM
// before escalation to SIGKILL.
const abortKillGrace = 3 * time.Second

// CLIFactory creates handles backed by an agent CLI subprocess. The CLI is
// expected to read one JSON request object on stdin and write one JSON event
// object per stdout line (stream-json convention).
type CLIFactory struct {
	command    string
	args       []string
	defaultDir string
	logger     *slog.Logger
}

// NewCLIFactory creates a factory for the given agent command. defaultDir is
// the working directory used for sessions that carry none. Pass nil logger
// for default.
func NewCLIFactory(command string, args []string, defaultDir string, logger *slog.Logger) *CLIFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIFactory{
		command:    command,
		args:       args,
		defaultDir: defaultDir,
		logger:     logger.With("component", "agent-cli"),
	}
}

// CreateHandle returns a handle bound to one session. No process is spawned
// until the first Chat call.
func (f *CLIFactory) CreateHandle(cfg SessionConfig) (Handle, error) {
	if f.command == "" {
		return nil, fmt.Errorf("agent command not configured")
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = f.defaultDir
	}
	return &cliHandle{
		factory: f,
		cfg:     cfg,
		logger:  f.logger.With("session_id", cfg.SessionID),
	}, nil
}

// chatRequest is the stdin frame sent to the subprocess for a turn.
type chatRequest struct {
	Type        string       `json:"type"`
	SessionID   string       `json:"session_id"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Options     *TurnOptions `json:"options,omitempty"`
}

// permissionResponse is the stdin control frame resolving a permission request.
type permissionResponse struct {
	Type        string `json:"type"`
	RequestID   string `json:"request_id"`
	Allowed     bool   `json:"allowed"`
	AlwaysAllow bool   `json:"always_allow,omitempty"`
}

type cliHandle struct {
	factory *CLIFactory
	cfg     SessionConfig
	logger  *slog.Logger

	mu           sync.Mutex
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	pendingPerms map[string]bool
	closed       bool
}

// Chat spawns the agent CLI for one turn and streams its decoded events.
// The session id is passed so the runtime can resume prior conversation state.
func (h *cliHandle) Chat(ctx context.Context, text string, attachments []Attachment, opts *TurnOptions) (<-chan Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("handle closed")
	}
	if h.cmd != nil {
		return nil, fmt.Errorf("turn already in flight for session %s", h.cfg.SessionID)
	}

	cmd := exec.Command(h.factory.command, h.factory.args...)
	cmd.Dir = h.cfg.WorkingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent process: %w", err)
	}

	req := chatRequest{
		Type:        "chat",
		SessionID:   h.cfg.SessionID,
		Text:        text,
		Attachments: attachments,
		Options:     opts,
	}
	enc := json.NewEncoder(stdin)
	if err := enc.Encode(&req); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("writing chat request: %w", err)
	}

	h.cmd = cmd
	h.stdin = stdin
	h.pendingPerms = make(map[string]bool)

	out := make(chan Event, 16)
	go h.readEvents(ctx, cmd, stdout, &stderr, out)
	return out, nil
}

// readEvents decodes stdout lines into Events until the process exits.
// A non-zero exit without a terminal complete surfaces stderr as typed_error.
func (h *cliHandle) readEvents(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, stderr *strings.Builder, out chan<- Event) {
	defer close(out)
	defer h.clearTurn(cmd)

	sawComplete := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxEventLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			h.logger.Warn("undecodable agent event line", "error", err)
			continue
		}

		if ev.Type == EventPermissionRequest && ev.Permission != nil {
			h.mu.Lock()
			h.pendingPerms[ev.Permission.ID] = true
			h.mu.Unlock()
		}
		if ev.Type == EventComplete {
			sawComplete = true
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			h.logger.Debug("turn context cancelled, stopping event read")
			cmd.Process.Signal(syscall.SIGTERM)
			cmd.Wait()
			return
		}
	}

	err := cmd.Wait()
	if err != nil && !sawComplete {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		detail := &ErrorDetail{Code: "agent_exit", Message: msg}
		select {
		case out <- Event{Type: EventTypedError, Detail: detail}:
		case <-ctx.Done():
		}
	}
}

// clearTurn releases the per-turn process state so a new Chat can start.
func (h *cliHandle) clearTurn(cmd *exec.Cmd) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == cmd {
		h.cmd = nil
		h.stdin = nil
		h.pendingPerms = nil
	}
}

// ForceAbort evicts the in-flight turn's process without awaiting it: the
// per-turn state is cleared immediately so a superseding Chat can start at
// once, and the old process is reaped by its reader goroutine. Idempotent:
// aborting an idle handle does nothing.
func (h *cliHandle) ForceAbort(reason AbortReason) {
	h.mu.Lock()
	cmd := h.cmd
	h.cmd = nil
	h.stdin = nil
	h.pendingPerms = nil
	h.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	h.logger.Info("aborting agent turn", "reason", string(reason))
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		h.logger.Debug("abort signal failed", "error", err)
	}
	go func() {
		time.Sleep(abortKillGrace)
		cmd.Process.Kill()
	}()
}

// RespondToPermission forwards a permission decision to the running process.
func (h *cliHandle) RespondToPermission(requestID string, allowed, alwaysAllow bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdin == nil || !h.pendingPerms[requestID] {
		return false
	}
	delete(h.pendingPerms, requestID)

	resp := permissionResponse{
		Type:        "permission_response",
		RequestID:   requestID,
		Allowed:     allowed,
		AlwaysAllow: alwaysAllow,
	}
	if err := json.NewEncoder(h.stdin).Encode(&resp); err != nil {
		h.logger.Warn("failed to write permission response", "error", err)
		return false
	}
	return true
}

// Close aborts any in-flight turn and marks the handle unusable.
func (h *cliHandle) Close() error {
	h.mu.Lock()
	cmd := h.cmd
	h.closed = true
	h.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Signal(syscall.SIGTERM)
	}
	return nil
}
