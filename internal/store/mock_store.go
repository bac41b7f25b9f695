// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/glasshouse-dev/glasshouse/internal/session"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	sessions   map[string]*session.Session
	messages   map[string][]*session.Message
	workspaces map[string]*Workspace

	// FailSaves makes ReplaceMessages return an error, for exercising the
	// coordinator's snapshot failure path.
	FailSaves bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions:   make(map[string]*session.Session),
		messages:   make(map[string][]*session.Message),
		workspaces: make(map[string]*Workspace),
	}
}

// CreateSession stores a new session.
func (m *MockStore) CreateSession(ctx context.Context, sess *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sess.ID]; exists {
		return ErrDuplicateSession
	}
	s := *sess
	s.Messages = nil
	m.sessions[sess.ID] = &s
	return nil
}

// GetSession retrieves a session by id.
func (m *MockStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s := *sess
	return &s, nil
}

// ListSessions returns sessions sorted by updated_at descending.
func (m *MockStore) ListSessions(ctx context.Context, workspaceRoot string) ([]*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*session.Session
	for _, sess := range m.sessions {
		if workspaceRoot != "" && sess.WorkspaceRoot != workspaceRoot {
			continue
		}
		s := *sess
		sessions = append(sessions, &s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// UpdateSessionMetadata applies a partial update.
func (m *MockStore) UpdateSessionMetadata(ctx context.Context, id string, update MetadataUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if update.Name != nil {
		sess.Name = *update.Name
	}
	if update.Flagged != nil {
		sess.Flagged = *update.Flagged
	}
	if update.Unread != nil {
		sess.Unread = *update.Unread
	}
	if update.Labels != nil {
		sess.Labels = append([]string(nil), (*update.Labels)...)
	}
	if update.WorkingDir != nil {
		sess.WorkingDir = *update.WorkingDir
	}
	sess.UpdatedAt = time.Now()
	return nil
}

// DeleteSession removes a session and its messages.
func (m *MockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

// ReplaceMessages overwrites the stored timeline for a session.
func (m *MockStore) ReplaceMessages(ctx context.Context, sessionID string, messages []*session.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSaves {
		return context.DeadlineExceeded
	}

	copied := make([]*session.Message, len(messages))
	for i, msg := range messages {
		c := *msg
		copied[i] = &c
	}
	m.messages[sessionID] = copied
	if sess, ok := m.sessions[sessionID]; ok {
		sess.UpdatedAt = time.Now()
	}
	return nil
}

// GetMessages returns the stored timeline for a session.
func (m *MockStore) GetMessages(ctx context.Context, sessionID string) ([]*session.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	copied := make([]*session.Message, len(msgs))
	for i, msg := range msgs {
		c := *msg
		copied[i] = &c
	}
	return copied, nil
}

// UpsertWorkspace records a workspace.
func (m *MockStore) UpsertWorkspace(ctx context.Context, ws *Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := *ws
	m.workspaces[ws.Root] = &w
	return nil
}

// ListWorkspaces returns workspaces, most recently opened first.
func (m *MockStore) ListWorkspaces(ctx context.Context) ([]*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var workspaces []*Workspace
	for _, ws := range m.workspaces {
		w := *ws
		workspaces = append(workspaces, &w)
	}
	sort.Slice(workspaces, func(i, j int) bool {
		return workspaces[i].LastOpenedAt.After(workspaces[j].LastOpenedAt)
	})
	return workspaces, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
