// ABOUTME: Store interface and supporting types for durable session persistence
// ABOUTME: Sessions and workspaces are owned here; the coordinator only caches

package store

import (
	"context"
	"errors"
	"time"

	"github.com/glasshouse-dev/glasshouse/internal/session"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when creating a session whose id already exists.
var ErrDuplicateSession = errors.New("session already exists")

// Workspace is a durable record of a workspace root that sessions have been
// created in.
type Workspace struct {
	Root         string
	Name         string
	LastOpenedAt time.Time
}

// MetadataUpdate carries partial session metadata changes. Nil fields are
// left untouched.
type MetadataUpdate struct {
	Name       *string
	Flagged    *bool
	Unread     *bool
	Labels     *[]string
	WorkingDir *string
}

// Store defines the persistence contract for sessions, their message
// timelines, and workspace records.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	ListSessions(ctx context.Context, workspaceRoot string) ([]*session.Session, error)
	UpdateSessionMetadata(ctx context.Context, id string, update MetadataUpdate) error
	DeleteSession(ctx context.Context, id string) error

	// Message timeline snapshots. ReplaceMessages overwrites the stored
	// timeline with the coordinator's authoritative in-memory copy.
	ReplaceMessages(ctx context.Context, sessionID string, messages []*session.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]*session.Message, error)

	// Workspaces
	UpsertWorkspace(ctx context.Context, ws *Workspace) error
	ListWorkspaces(ctx context.Context) ([]*Workspace, error)

	Close() error
}
