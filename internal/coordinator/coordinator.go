// ABOUTME: SessionCoordinator owns all in-memory conversation state per session
// ABOUTME: Enforces single-flight turns and drives agent event sequences

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glasshouse-dev/glasshouse/internal/agent"
	"github.com/glasshouse-dev/glasshouse/internal/broadcast"
	"github.com/glasshouse-dev/glasshouse/internal/session"
	"github.com/glasshouse-dev/glasshouse/internal/store"
	"github.com/glasshouse-dev/glasshouse/internal/workspace"
)

// snapshotTimeout bounds the durable write-through after a turn. Storage
// failures are logged, never fatal to the turn.
const snapshotTimeout = 5 * time.Second

// managedSession is the coordinator's live working set for one session.
// All fields are guarded by the coordinator mutex.
type managedSession struct {
	session *session.Session

	// handle is created lazily on the first turn and reused across turns.
	handle agent.Handle

	// generation increments whenever a turn is superseded or cancelled.
	// An in-flight turn goroutine carrying a stale generation may no longer
	// mutate state or emit events.
	generation int

	isProcessing bool
	turnID       string

	// Per-turn transient state, reset at turn start.
	streamingText     strings.Builder
	pendingTools      map[string]string // tool-use id -> tool name
	parentToolStack   []string          // container tool-use ids, removal by value
	toolToParent      map[string]string // nested tool-use id -> container id
	pendingTextParent string
}

// Coordinator holds the authoritative in-memory projection of every resident
// session's conversation and enforces at-most-one active turn per session.
// One instance exists per process.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*managedSession

	store       store.Store
	factory     agent.Factory
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
}

// New creates a Coordinator. Pass nil logger for default.
func New(st store.Store, factory agent.Factory, broadcaster *broadcast.Broadcaster, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sessions:    make(map[string]*managedSession),
		store:       st,
		factory:     factory,
		broadcaster: broadcaster,
		logger:      logger.With("component", "coordinator"),
	}
}

// SendRequest carries everything needed to begin a turn.
type SendRequest struct {
	SessionID         string
	Text              string
	Attachments       []agent.Attachment
	StoredAttachments []agent.StoredAttachment
	Options           *agent.TurnOptions
}

// SendMessage begins a turn: the user message is appended and broadcast, the
// per-turn state is reset, and the agent sequence is driven asynchronously.
// Returns the accepted user message id immediately; completion and errors
// arrive solely via the event stream.
//
// If a turn is already in flight for this session it is force-aborted with
// reason redirect first — the new user message always supersedes it, and the
// aborted turn's in-flight state is discarded, not merged.
func (c *Coordinator) SendMessage(ctx context.Context, req SendRequest) (string, error) {
	c.mu.Lock()

	ms, err := c.residentLocked(ctx, req.SessionID)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}

	if ms.isProcessing {
		c.logger.Info("superseding in-flight turn", "session_id", req.SessionID)
		if ms.handle != nil {
			ms.handle.ForceAbort(agent.AbortRedirect)
		}
		ms.generation++
		ms.isProcessing = false
	}

	userMsg := &session.Message{
		ID:        uuid.New().String(),
		Role:      session.RoleUser,
		Content:   req.Text,
		Timestamp: time.Now(),
	}
	ms.session.Messages = append(ms.session.Messages, userMsg)

	// Reset per-turn transient state.
	ms.isProcessing = true
	ms.turnID = uuid.New().String()
	ms.streamingText.Reset()
	ms.pendingTools = make(map[string]string)
	ms.parentToolStack = ms.parentToolStack[:0]
	ms.toolToParent = make(map[string]string)
	ms.pendingTextParent = ""

	gen := ms.generation

	// Published while the lock is held: outward events are serialized through
	// c.mu, so no frame of a superseded turn can land after this one.
	c.broadcaster.Publish(&session.Event{
		Type:      session.EventUserMessage,
		SessionID: req.SessionID,
		MessageID: userMsg.ID,
		Text:      req.Text,
		Status:    "accepted",
		TurnID:    ms.turnID,
	})
	c.mu.Unlock()

	go c.runTurn(req.SessionID, gen, req)

	return userMsg.ID, nil
}

// runTurn obtains the session's agent handle, drives its event sequence, and
// guarantees the turn terminates with exactly one complete event whether it
// succeeds, errors, or is superseded.
func (c *Coordinator) runTurn(sessionID string, gen int, req SendRequest) {
	c.mu.Lock()
	ms, ok := c.sessions[sessionID]
	if !ok || ms.generation != gen {
		c.mu.Unlock()
		return
	}

	if ms.handle == nil {
		handle, err := c.factory.CreateHandle(agent.SessionConfig{
			SessionID:  sessionID,
			WorkingDir: ms.session.WorkingDir,
		})
		if err != nil {
			ms.isProcessing = false
			c.publishTurnFailure(sessionID, fmt.Sprintf("agent unavailable: %v", err))
			c.mu.Unlock()
			c.logger.Error("agent handle creation failed", "session_id", sessionID, "error", err)
			return
		}
		ms.handle = handle
	}
	handle := ms.handle
	c.mu.Unlock()

	// Stored attachments travel as references in the same attachment list.
	attachments := req.Attachments
	for _, sa := range req.StoredAttachments {
		attachments = append(attachments, agent.Attachment{
			Filename: sa.Filename,
			StoredID: sa.ID,
		})
	}

	events, err := handle.Chat(context.Background(), req.Text, attachments, req.Options)
	if err != nil {
		c.failTurn(sessionID, gen, err.Error())
		return
	}

	completed := false
	for ev := range events {
		done, superseded := c.processAgentEvent(sessionID, gen, ev)
		if superseded {
			drain(events)
			return
		}
		if done {
			completed = true
			// The sequence may still yield items after its terminal
			// complete; they belong to no turn and are discarded.
			drain(events)
			break
		}
	}

	if !completed {
		// The sequence ended without a terminal complete (agent raised or
		// the process died). Any error payload was already forwarded; the
		// turn still owes its single complete event.
		c.finishTurn(sessionID, gen)
	}

	c.snapshot(sessionID)
}

// drain consumes the remainder of an event sequence in the background so a
// slow producer never blocks.
func drain(events <-chan agent.Event) {
	go func() {
		for range events {
		}
	}()
}

// failTurn ends a turn that could not be driven at all: error then complete.
func (c *Coordinator) failTurn(sessionID string, gen int, message string) {
	c.mu.Lock()
	ms, ok := c.sessions[sessionID]
	if !ok || ms.generation != gen {
		c.mu.Unlock()
		return
	}
	ms.isProcessing = false
	c.publishTurnFailure(sessionID, message)
	c.mu.Unlock()
}

// publishTurnFailure emits error then complete. Caller holds c.mu.
func (c *Coordinator) publishTurnFailure(sessionID, message string) {
	c.broadcaster.Publish(&session.Event{
		Type:      session.EventError,
		SessionID: sessionID,
		Text:      message,
	})
	c.broadcaster.Publish(&session.Event{
		Type:      session.EventComplete,
		SessionID: sessionID,
	})
}

// finishTurn flips isProcessing off and emits the turn's complete event, if
// the turn is still current.
func (c *Coordinator) finishTurn(sessionID string, gen int) {
	c.mu.Lock()
	ms, ok := c.sessions[sessionID]
	if !ok || ms.generation != gen {
		c.mu.Unlock()
		return
	}
	ms.isProcessing = false
	c.broadcaster.Publish(&session.Event{
		Type:      session.EventComplete,
		SessionID: sessionID,
	})
	c.mu.Unlock()
}

// CancelProcessing force-aborts the session's in-flight turn with reason
// user_stop. No-op if the session is not processing. Unless silent is set,
// the turn's complete event is emitted here.
func (c *Coordinator) CancelProcessing(sessionID string, silent bool) {
	c.mu.Lock()
	ms, ok := c.sessions[sessionID]
	if !ok || !ms.isProcessing {
		c.mu.Unlock()
		return
	}
	if ms.handle != nil {
		ms.handle.ForceAbort(agent.AbortUserStop)
	}
	ms.generation++
	ms.isProcessing = false
	if !silent {
		c.broadcaster.Publish(&session.Event{
			Type:      session.EventComplete,
			SessionID: sessionID,
		})
	}
	c.mu.Unlock()

	c.logger.Info("turn cancelled", "session_id", sessionID)
}

// RespondToPermission forwards a permission decision to the session's agent
// handle. Returns whether a handle existed to receive it.
func (c *Coordinator) RespondToPermission(sessionID, requestID string, allowed, alwaysAllow bool) bool {
	c.mu.Lock()
	ms, ok := c.sessions[sessionID]
	var handle agent.Handle
	if ok {
		handle = ms.handle
	}
	c.mu.Unlock()

	if handle == nil {
		return false
	}
	handle.RespondToPermission(requestID, allowed, alwaysAllow)
	return true
}

// CreateSession creates and persists a new session in the given workspace.
// The workspace manifest, if present, supplies default labels and working
// directory.
func (c *Coordinator) CreateSession(ctx context.Context, workspaceRoot, name string) (*session.Session, error) {
	manifest, err := workspace.LoadManifest(workspaceRoot)
	if err != nil && err != workspace.ErrNoManifest {
		c.logger.Warn("unreadable workspace manifest", "root", workspaceRoot, "error", err)
		manifest = nil
	}

	now := time.Now()
	sess := &session.Session{
		ID:            uuid.New().String(),
		WorkspaceRoot: workspaceRoot,
		Name:          name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sess.Name == "" {
		sess.Name = "New session"
	}
	if manifest != nil {
		sess.Labels = append([]string(nil), manifest.Labels...)
		if manifest.WorkingDir != "" {
			sess.WorkingDir = filepath.Join(workspaceRoot, manifest.WorkingDir)
		}
	}
	if sess.WorkingDir == "" {
		sess.WorkingDir = workspaceRoot
	}

	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	ws := &store.Workspace{
		Root:         workspaceRoot,
		Name:         workspace.DisplayName(workspaceRoot, manifest),
		LastOpenedAt: now,
	}
	if err := c.store.UpsertWorkspace(ctx, ws); err != nil {
		c.logger.Warn("failed to record workspace", "root", workspaceRoot, "error", err)
	}

	c.mu.Lock()
	c.sessions[sess.ID] = newManagedSession(sess)
	c.mu.Unlock()

	c.logger.Info("session created", "session_id", sess.ID, "workspace", workspaceRoot)
	return sess, nil
}

// GetSession returns the session with its message timeline: the live
// in-memory projection if the session is resident, otherwise the stored
// snapshot. Returns store.ErrNotFound for unknown ids.
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	c.mu.Lock()
	if ms, ok := c.sessions[sessionID]; ok {
		snapshot := copySession(ms.session)
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := c.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Messages = messages
	return sess, nil
}

// ListSessions lists stored sessions, optionally filtered by workspace root.
func (c *Coordinator) ListSessions(ctx context.Context, workspaceRoot string) ([]*session.Session, error) {
	return c.store.ListSessions(ctx, workspaceRoot)
}

// ListWorkspaces lists known workspaces.
func (c *Coordinator) ListWorkspaces(ctx context.Context) ([]*store.Workspace, error) {
	return c.store.ListWorkspaces(ctx)
}

// UpdateMetadata applies a partial metadata update to storage and, if the
// session is resident, to the cached copy.
func (c *Coordinator) UpdateMetadata(ctx context.Context, sessionID string, update store.MetadataUpdate) error {
	if err := c.store.UpdateSessionMetadata(ctx, sessionID, update); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ms, ok := c.sessions[sessionID]
	if !ok {
		return nil
	}
	if update.Name != nil {
		ms.session.Name = *update.Name
	}
	if update.Flagged != nil {
		ms.session.Flagged = *update.Flagged
	}
	if update.Unread != nil {
		ms.session.Unread = *update.Unread
	}
	if update.Labels != nil {
		ms.session.Labels = append([]string(nil), (*update.Labels)...)
	}
	if update.WorkingDir != nil {
		ms.session.WorkingDir = *update.WorkingDir
	}
	ms.session.UpdatedAt = time.Now()
	return nil
}

// DeleteSession aborts any in-flight turn, evicts the session from memory,
// and deletes the stored record.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID string) error {
	c.CancelProcessing(sessionID, true)

	c.mu.Lock()
	if ms, ok := c.sessions[sessionID]; ok {
		if ms.handle != nil {
			ms.handle.Close()
		}
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()

	return c.store.DeleteSession(ctx, sessionID)
}

// ResidentSessionCount reports how many sessions are live in memory.
// Diagnostics only.
func (c *Coordinator) ResidentSessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Close aborts all in-flight turns and releases agent handles.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ms := range c.sessions {
		if ms.handle != nil {
			if ms.isProcessing {
				ms.handle.ForceAbort(agent.AbortUserStop)
			}
			ms.handle.Close()
		}
		delete(c.sessions, id)
	}
}

// residentLocked returns the managed state for a session, loading it from
// storage on first touch. Caller holds c.mu.
func (c *Coordinator) residentLocked(ctx context.Context, sessionID string) (*managedSession, error) {
	if ms, ok := c.sessions[sessionID]; ok {
		return ms, nil
	}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := c.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Messages = messages

	ms := newManagedSession(sess)
	c.sessions[sessionID] = ms
	return ms, nil
}

func newManagedSession(sess *session.Session) *managedSession {
	return &managedSession{
		session:      sess,
		pendingTools: make(map[string]string),
		toolToParent: make(map[string]string),
	}
}

// snapshot writes the in-memory timeline through to storage with its own
// timeout, so persistence survives caller cancellation. Failures are logged.
func (c *Coordinator) snapshot(sessionID string) {
	c.mu.Lock()
	ms, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	messages := make([]*session.Message, len(ms.session.Messages))
	for i, msg := range ms.session.Messages {
		m := *msg
		messages[i] = &m
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	if err := c.store.ReplaceMessages(ctx, sessionID, messages); err != nil {
		c.logger.Error("failed to snapshot session", "session_id", sessionID, "error", err)
	} else {
		c.logger.Debug("session snapshot saved", "session_id", sessionID, "messages", len(messages))
	}
}

func copySession(sess *session.Session) *session.Session {
	s := *sess
	s.Messages = make([]*session.Message, len(sess.Messages))
	for i, msg := range sess.Messages {
		m := *msg
		s.Messages[i] = &m
	}
	s.Labels = append([]string(nil), sess.Labels...)
	return &s
}
