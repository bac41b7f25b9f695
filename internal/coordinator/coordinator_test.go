// ABOUTME: Tests for SessionCoordinator turn lifecycle and single-flight rules
// ABOUTME: Uses a scripted mock agent runtime and a real broadcaster subscriber

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glasshouse-dev/glasshouse/internal/agent"
	"github.com/glasshouse-dev/glasshouse/internal/broadcast"
	"github.com/glasshouse-dev/glasshouse/internal/session"
	"github.com/glasshouse-dev/glasshouse/internal/store"
)

// mockHandle is a scripted agent runtime handle.
type mockHandle struct {
	mu      sync.Mutex
	script  []agent.Event
	chatErr error

	// hold keeps the event stream open after the script has been played,
	// until released (or ForceAbort fires).
	hold    chan struct{}
	aborts  []agent.AbortReason
	perms   []permCall
	permOK  bool
	chats   int
}

type permCall struct {
	requestID   string
	allowed     bool
	alwaysAllow bool
}

func (h *mockHandle) Chat(ctx context.Context, text string, attachments []agent.Attachment, opts *agent.TurnOptions) (<-chan agent.Event, error) {
	h.mu.Lock()
	h.chats++
	script := h.script
	hold := h.hold
	err := h.chatErr
	h.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan agent.Event)
	go func() {
		defer close(ch)
		for _, ev := range script {
			ch <- ev
		}
		if hold != nil {
			<-hold
		}
	}()
	return ch, nil
}

func (h *mockHandle) ForceAbort(reason agent.AbortReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aborts = append(h.aborts, reason)
	if h.hold != nil {
		close(h.hold)
		h.hold = nil
	}
}

func (h *mockHandle) RespondToPermission(requestID string, allowed, alwaysAllow bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.perms = append(h.perms, permCall{requestID, allowed, alwaysAllow})
	return h.permOK
}

func (h *mockHandle) Close() error { return nil }

func (h *mockHandle) abortReasons() []agent.AbortReason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]agent.AbortReason(nil), h.aborts...)
}

// mockFactory hands out prepared handles in order.
type mockFactory struct {
	mu      sync.Mutex
	handles []*mockHandle
	calls   int
	err     error
}

func (f *mockFactory) CreateHandle(cfg agent.SessionConfig) (agent.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	h := f.handles[f.calls%len(f.handles)]
	f.calls++
	return h, nil
}

// subscriber decodes broadcast frames back into events, skipping the
// synthetic connected frame.
type subscriber struct {
	t  *testing.T
	ch <-chan []byte
}

func newSubscriber(t *testing.T, b *broadcast.Broadcaster) *subscriber {
	ch, _ := b.Subscribe(t.Context())
	s := &subscriber{t: t, ch: ch}
	first := s.next()
	require.Equal(t, session.EventConnected, first.Type)
	return s
}

// next returns the next event, failing the test after a timeout.
func (s *subscriber) next() *session.Event {
	s.t.Helper()
	select {
	case data, ok := <-s.ch:
		require.True(s.t, ok, "subscriber channel closed")
		var ev session.Event
		require.NoError(s.t, json.Unmarshal(data, &ev))
		return &ev
	case <-time.After(2 * time.Second):
		s.t.Fatal("timed out waiting for event")
		return nil
	}
}

// collectUntilComplete reads events until a complete arrives.
func (s *subscriber) collectUntilComplete() []*session.Event {
	s.t.Helper()
	var events []*session.Event
	for {
		ev := s.next()
		events = append(events, ev)
		if ev.Type == session.EventComplete {
			return events
		}
	}
}

// assertNoEvent asserts nothing arrives within the window.
func (s *subscriber) assertNoEvent(window time.Duration) {
	s.t.Helper()
	select {
	case data := <-s.ch:
		s.t.Fatalf("unexpected event: %s", data)
	case <-time.After(window):
	}
}

type fixture struct {
	coord   *Coordinator
	store   *store.MockStore
	factory *mockFactory
	bcast   *broadcast.Broadcaster
	sess    *session.Session
}

func newFixture(t *testing.T, handle *mockHandle) *fixture {
	st := store.NewMockStore()
	factory := &mockFactory{handles: []*mockHandle{handle}}
	bcast := broadcast.New(nil)
	t.Cleanup(bcast.Close)
	coord := New(st, factory, bcast, nil)
	t.Cleanup(coord.Close)

	sess := &session.Session{
		ID:            "sess-1",
		WorkspaceRoot: t.TempDir(),
		Name:          "test session",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, st.CreateSession(t.Context(), sess))

	return &fixture{coord: coord, store: st, factory: factory, bcast: bcast, sess: sess}
}

func TestSendMessage_SimpleTextTurn(t *testing.T) {
	handle := &mockHandle{script: []agent.Event{
		{Type: agent.EventTextDelta, Text: "Hel"},
		{Type: agent.EventTextDelta, Text: "lo"},
		{Type: agent.EventTextComplete, Text: "Hello"},
		{Type: agent.EventComplete},
	}}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	msgID, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "Hi there"})
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	events := sub.collectUntilComplete()
	require.Len(t, events, 5)
	assert.Equal(t, session.EventUserMessage, events[0].Type)
	assert.Equal(t, "accepted", events[0].Status)
	assert.Equal(t, msgID, events[0].MessageID)
	assert.Equal(t, session.EventTextDelta, events[1].Type)
	assert.Equal(t, "Hel", events[1].Text)
	assert.Equal(t, session.EventTextDelta, events[2].Type)
	assert.Equal(t, "lo", events[2].Text)
	assert.Equal(t, session.EventTextComplete, events[3].Type)
	assert.Equal(t, "Hello", events[3].Text)
	assert.Empty(t, events[3].ParentToolUseID)
	assert.Equal(t, session.EventComplete, events[4].Type)

	sess, err := f.coord.GetSession(t.Context(), "sess-1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, session.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "Hi there", sess.Messages[0].Content)
	assert.Equal(t, session.RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, "Hello", sess.Messages[1].Content)
	assert.Empty(t, sess.Messages[1].ParentToolUseID)
}

func TestSendMessage_SnapshotsTimelineToStore(t *testing.T) {
	handle := &mockHandle{script: []agent.Event{
		{Type: agent.EventTextComplete, Text: "done"},
		{Type: agent.EventComplete},
	}}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "go"})
	require.NoError(t, err)
	sub.collectUntilComplete()

	// The snapshot happens right after the turn; poll briefly.
	require.Eventually(t, func() bool {
		msgs, err := f.store.GetMessages(context.Background(), "sess-1")
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessage_UnknownSession(t *testing.T) {
	f := newFixture(t, &mockHandle{})

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "nope", Text: "hi"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendMessage_RedirectAbortsInFlightTurn(t *testing.T) {
	handle := &mockHandle{
		script: []agent.Event{{Type: agent.EventTextDelta, Text: "thinking..."}},
		hold:   make(chan struct{}),
	}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "first"})
	require.NoError(t, err)

	// user_message then the delta from the first turn
	require.Equal(t, session.EventUserMessage, sub.next().Type)
	require.Equal(t, session.EventTextDelta, sub.next().Type)

	// Second send supersedes the in-flight turn.
	handle.mu.Lock()
	handle.script = []agent.Event{
		{Type: agent.EventTextComplete, Text: "second answer"},
		{Type: agent.EventComplete},
	}
	handle.mu.Unlock()

	_, err = f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "second"})
	require.NoError(t, err)

	reasons := handle.abortReasons()
	require.Len(t, reasons, 1)
	assert.Equal(t, agent.AbortRedirect, reasons[0])

	events := sub.collectUntilComplete()
	// The superseded turn contributes nothing after the abort; exactly one
	// complete is observed and it belongs to the second turn.
	completes := 0
	for _, ev := range events {
		if ev.Type == session.EventComplete {
			completes++
		}
	}
	assert.Equal(t, 1, completes)
	assert.Equal(t, session.EventUserMessage, events[0].Type)
	assert.Equal(t, "second", events[0].Text)

	sub.assertNoEvent(100 * time.Millisecond)
}

// factoryFunc adapts a function to the agent.Factory interface.
type factoryFunc func(agent.SessionConfig) (agent.Handle, error)

func (f factoryFunc) CreateHandle(cfg agent.SessionConfig) (agent.Handle, error) { return f(cfg) }

func TestSendMessage_RedirectWithSubprocessRuntime(t *testing.T) {
	// A real subprocess runtime whose process ignores TERM: the superseding
	// send must start its turn immediately and win the stream while the old
	// process is still un-reaped.
	script := `trap '' TERM
read req
echo '{"type":"text_delta","text":"working"}'
sleep 1
echo '{"type":"text_complete","text":"done"}'
echo '{"type":"complete"}'`

	st := store.NewMockStore()
	bcast := broadcast.New(nil)
	t.Cleanup(bcast.Close)
	coord := New(st, agent.NewCLIFactory("sh", []string{"-c", script}, "", nil), bcast, nil)
	t.Cleanup(coord.Close)

	sess := &session.Session{
		ID:            "sess-1",
		WorkspaceRoot: t.TempDir(),
		Name:          "cli session",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, st.CreateSession(t.Context(), sess))
	sub := newSubscriber(t, bcast)

	_, err := coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "first"})
	require.NoError(t, err)
	require.Equal(t, session.EventUserMessage, sub.next().Type)
	require.Equal(t, session.EventTextDelta, sub.next().Type)

	_, err = coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "second"})
	require.NoError(t, err)

	events := sub.collectUntilComplete()
	require.Equal(t, session.EventUserMessage, events[0].Type)
	assert.Equal(t, "second", events[0].Text)
	for _, ev := range events {
		require.NotEqual(t, session.EventError, ev.Type, "superseding turn must not fail: %s", ev.Text)
	}
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, session.EventTextComplete, events[len(events)-2].Type)
	assert.Equal(t, "done", events[len(events)-2].Text)
}

// labeledHandle streams deltas labeled per turn until aborted, exercising
// frame ordering around superseding sends.
type labeledHandle struct {
	mu   sync.Mutex
	turn int
	stop chan struct{}
}

func (h *labeledHandle) Chat(ctx context.Context, text string, attachments []agent.Attachment, opts *agent.TurnOptions) (<-chan agent.Event, error) {
	h.mu.Lock()
	h.turn++
	label := fmt.Sprintf("turn-%d", h.turn)
	stop := make(chan struct{})
	h.stop = stop
	h.mu.Unlock()

	ch := make(chan agent.Event)
	go func() {
		defer close(ch)
		for {
			select {
			case <-stop:
				return
			case ch <- agent.Event{Type: agent.EventTextDelta, Text: label}:
				time.Sleep(time.Millisecond)
			}
		}
	}()
	return ch, nil
}

func (h *labeledHandle) ForceAbort(agent.AbortReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
}

func (h *labeledHandle) RespondToPermission(string, bool, bool) bool { return false }

func (h *labeledHandle) Close() error { return nil }

func TestRedirect_StaleFramesNeverTrailSupersedingSend(t *testing.T) {
	handle := &labeledHandle{}
	st := store.NewMockStore()
	bcast := broadcast.New(nil)
	t.Cleanup(bcast.Close)
	coord := New(st, factoryFunc(func(agent.SessionConfig) (agent.Handle, error) {
		return handle, nil
	}), bcast, nil)
	t.Cleanup(coord.Close)

	sess := &session.Session{
		ID:            "sess-1",
		WorkspaceRoot: t.TempDir(),
		Name:          "busy session",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, st.CreateSession(t.Context(), sess))
	sub := newSubscriber(t, bcast)

	for i := 1; i <= 4; i++ {
		_, err := coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: fmt.Sprintf("msg-%d", i)})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	coord.CancelProcessing("sess-1", false)

	// Once a superseding user message is on the stream, no frame of a
	// retired turn may follow it.
	retired := make(map[string]bool)
	var currentTurn string
	for {
		ev := sub.next()
		switch ev.Type {
		case session.EventUserMessage:
			if currentTurn != "" {
				retired[currentTurn] = true
			}
			currentTurn = ev.TurnID
		case session.EventTextDelta:
			assert.False(t, retired[ev.TurnID], "frame of a superseded turn arrived after the superseding user message")
		case session.EventComplete:
			return
		}
	}
}

func TestSendMessage_ChatErrorEmitsErrorThenComplete(t *testing.T) {
	handle := &mockHandle{chatErr: context.DeadlineExceeded}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "hi"})
	require.NoError(t, err)

	events := sub.collectUntilComplete()
	require.Len(t, events, 3)
	assert.Equal(t, session.EventUserMessage, events[0].Type)
	assert.Equal(t, session.EventError, events[1].Type)
	assert.NotEmpty(t, events[1].Text)
	assert.Equal(t, session.EventComplete, events[2].Type)
}

func TestSendMessage_StreamEndsWithoutComplete(t *testing.T) {
	handle := &mockHandle{script: []agent.Event{
		{Type: agent.EventError, Text: "model overloaded"},
	}}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "hi"})
	require.NoError(t, err)

	events := sub.collectUntilComplete()
	require.Len(t, events, 3)
	assert.Equal(t, session.EventError, events[1].Type)
	assert.Equal(t, "model overloaded", events[1].Text)
	assert.Equal(t, session.EventComplete, events[2].Type)

	sub.assertNoEvent(100 * time.Millisecond)
}

func TestSendMessage_EventsAfterCompleteAreDiscarded(t *testing.T) {
	handle := &mockHandle{script: []agent.Event{
		{Type: agent.EventComplete},
		{Type: agent.EventTextDelta, Text: "late straggler"},
	}}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "hi"})
	require.NoError(t, err)

	events := sub.collectUntilComplete()
	require.Len(t, events, 2)
	assert.Equal(t, session.EventUserMessage, events[0].Type)
	assert.Equal(t, session.EventComplete, events[1].Type)

	sub.assertNoEvent(100 * time.Millisecond)
}

func TestSendMessage_ReusesHandleAcrossTurns(t *testing.T) {
	handle := &mockHandle{script: []agent.Event{{Type: agent.EventComplete}}}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	for i := 0; i < 3; i++ {
		_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "again"})
		require.NoError(t, err)
		sub.collectUntilComplete()
	}

	f.factory.mu.Lock()
	defer f.factory.mu.Unlock()
	assert.Equal(t, 1, f.factory.calls)
}

func TestSendMessage_HandleCreationFailure(t *testing.T) {
	f := newFixture(t, &mockHandle{})
	f.factory.mu.Lock()
	f.factory.err = context.DeadlineExceeded
	f.factory.mu.Unlock()
	sub := newSubscriber(t, f.bcast)

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "hi"})
	require.NoError(t, err, "message is accepted before the handle is obtained")

	events := sub.collectUntilComplete()
	require.Len(t, events, 3)
	assert.Equal(t, session.EventError, events[1].Type)
	assert.Equal(t, session.EventComplete, events[2].Type)
}

func TestCancelProcessing_NoopWhenIdle(t *testing.T) {
	handle := &mockHandle{}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	f.coord.CancelProcessing("sess-1", false)

	assert.Empty(t, handle.abortReasons())
	sub.assertNoEvent(100 * time.Millisecond)
}

func TestCancelProcessing_AbortsWithUserStop(t *testing.T) {
	handle := &mockHandle{
		script: []agent.Event{{Type: agent.EventTextDelta, Text: "wor"}},
		hold:   make(chan struct{}),
	}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "go"})
	require.NoError(t, err)
	require.Equal(t, session.EventUserMessage, sub.next().Type)
	require.Equal(t, session.EventTextDelta, sub.next().Type)

	f.coord.CancelProcessing("sess-1", false)

	reasons := handle.abortReasons()
	require.Len(t, reasons, 1)
	assert.Equal(t, agent.AbortUserStop, reasons[0])

	ev := sub.next()
	assert.Equal(t, session.EventComplete, ev.Type)
	sub.assertNoEvent(100 * time.Millisecond)

	// Cancel again: already idle, nothing happens.
	f.coord.CancelProcessing("sess-1", false)
	assert.Len(t, handle.abortReasons(), 1)
	sub.assertNoEvent(100 * time.Millisecond)
}

func TestCancelProcessing_Silent(t *testing.T) {
	handle := &mockHandle{
		script: []agent.Event{{Type: agent.EventTextDelta, Text: "x"}},
		hold:   make(chan struct{}),
	}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "go"})
	require.NoError(t, err)
	require.Equal(t, session.EventUserMessage, sub.next().Type)
	require.Equal(t, session.EventTextDelta, sub.next().Type)

	f.coord.CancelProcessing("sess-1", true)
	sub.assertNoEvent(100 * time.Millisecond)
}

func TestRespondToPermission(t *testing.T) {
	handle := &mockHandle{
		script: []agent.Event{{Type: agent.EventTextDelta, Text: "x"}},
		hold:   make(chan struct{}),
		permOK: true,
	}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	// No handle yet: nothing to receive the response.
	assert.False(t, f.coord.RespondToPermission("sess-1", "req-1", true, false))

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "go"})
	require.NoError(t, err)
	require.Equal(t, session.EventUserMessage, sub.next().Type)
	require.Equal(t, session.EventTextDelta, sub.next().Type)

	assert.True(t, f.coord.RespondToPermission("sess-1", "req-1", true, true))

	handle.mu.Lock()
	defer handle.mu.Unlock()
	require.Len(t, handle.perms, 1)
	assert.Equal(t, permCall{"req-1", true, true}, handle.perms[0])
}

func TestCreateSession_AppliesManifestDefaults(t *testing.T) {
	f := newFixture(t, &mockHandle{})

	root := t.TempDir()
	manifest := "name = \"Acme Monorepo\"\nlabels = [\"backend\", \"oncall\"]\nworking_dir = \"services/api\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "glasshouse.toml"), []byte(manifest), 0o644))

	sess, err := f.coord.CreateSession(t.Context(), root, "")
	require.NoError(t, err)
	assert.Equal(t, "New session", sess.Name)
	assert.Equal(t, []string{"backend", "oncall"}, sess.Labels)
	assert.Equal(t, root+"/services/api", sess.WorkingDir)

	workspaces, err := f.coord.ListWorkspaces(t.Context())
	require.NoError(t, err)
	require.Len(t, workspaces, 1)
	assert.Equal(t, "Acme Monorepo", workspaces[0].Name)
}

func TestUpdateMetadata_UpdatesStoreAndResidentCopy(t *testing.T) {
	handle := &mockHandle{script: []agent.Event{{Type: agent.EventComplete}}}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	// Make the session resident.
	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "hi"})
	require.NoError(t, err)
	sub.collectUntilComplete()

	name := "renamed"
	flagged := true
	err = f.coord.UpdateMetadata(t.Context(), "sess-1", store.MetadataUpdate{Name: &name, Flagged: &flagged})
	require.NoError(t, err)

	sess, err := f.coord.GetSession(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", sess.Name)
	assert.True(t, sess.Flagged)

	stored, err := f.store.GetSession(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Name)
}

func TestDeleteSession_AbortsInFlightTurn(t *testing.T) {
	handle := &mockHandle{
		script: []agent.Event{{Type: agent.EventTextDelta, Text: "x"}},
		hold:   make(chan struct{}),
	}
	f := newFixture(t, handle)
	sub := newSubscriber(t, f.bcast)

	_, err := f.coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-1", Text: "go"})
	require.NoError(t, err)
	require.Equal(t, session.EventUserMessage, sub.next().Type)
	require.Equal(t, session.EventTextDelta, sub.next().Type)

	require.NoError(t, f.coord.DeleteSession(t.Context(), "sess-1"))

	reasons := handle.abortReasons()
	require.Len(t, reasons, 1)
	assert.Equal(t, agent.AbortUserStop, reasons[0])

	_, err = f.coord.GetSession(t.Context(), "sess-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.coord.ResidentSessionCount())
}

func TestTurnsForDifferentSessionsAreIndependent(t *testing.T) {
	handleA := &mockHandle{
		script: []agent.Event{{Type: agent.EventTextDelta, Text: "a"}},
		hold:   make(chan struct{}),
	}
	handleB := &mockHandle{script: []agent.Event{
		{Type: agent.EventTextComplete, Text: "b done"},
		{Type: agent.EventComplete},
	}}

	st := store.NewMockStore()
	factory := &mockFactory{handles: []*mockHandle{handleA, handleB}}
	bcast := broadcast.New(nil)
	t.Cleanup(bcast.Close)
	coord := New(st, factory, bcast, nil)
	t.Cleanup(coord.Close)

	for _, id := range []string{"sess-a", "sess-b"} {
		require.NoError(t, st.CreateSession(t.Context(), &session.Session{
			ID: id, WorkspaceRoot: t.TempDir(), CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))
	}
	sub := newSubscriber(t, bcast)

	// Session A's turn stays open; session B's turn runs to completion.
	_, err := coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-a", Text: "slow"})
	require.NoError(t, err)
	require.Equal(t, session.EventUserMessage, sub.next().Type)
	require.Equal(t, session.EventTextDelta, sub.next().Type)

	_, err = coord.SendMessage(t.Context(), SendRequest{SessionID: "sess-b", Text: "fast"})
	require.NoError(t, err)

	events := sub.collectUntilComplete()
	for _, ev := range events {
		assert.Equal(t, "sess-b", ev.SessionID)
	}
	assert.Empty(t, handleA.abortReasons(), "session A's turn must be untouched")
}
