// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/message/workspace persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glasshouse-dev/glasshouse/internal/session"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			workspace_root TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			flagged INTEGER NOT NULL DEFAULT 0,
			unread INTEGER NOT NULL DEFAULT 0,
			labels TEXT NOT NULL DEFAULT '[]',
			working_dir TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_workspace
			ON sessions(workspace_root);

		CREATE TABLE IF NOT EXISTS session_messages (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			tool_use_id TEXT NOT NULL DEFAULT '',
			tool_input TEXT NOT NULL DEFAULT '',
			tool_status TEXT NOT NULL DEFAULT '',
			tool_result TEXT NOT NULL DEFAULT '',
			is_error INTEGER NOT NULL DEFAULT 0,
			intent TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			turn_id TEXT NOT NULL DEFAULT '',
			parent_tool_use_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, seq)
		);

		CREATE TABLE IF NOT EXISTS workspaces (
			root TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			last_opened_at DATETIME NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	labels, err := json.Marshal(sess.Labels)
	if err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_root, name, flagged, unread, labels, working_dir, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.WorkspaceRoot, sess.Name, boolToInt(sess.Flagged), boolToInt(sess.Unread),
		string(labels), sess.WorkingDir, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id, without its messages.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_root, name, flagged, unread, labels, working_dir, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns sessions, newest first, optionally filtered by
// workspace root. Messages are not loaded.
func (s *SQLiteStore) ListSessions(ctx context.Context, workspaceRoot string) ([]*session.Session, error) {
	query := `
		SELECT id, workspace_root, name, flagged, unread, labels, working_dir, created_at, updated_at
		FROM sessions`
	args := []any{}
	if workspaceRoot != "" {
		query += ` WHERE workspace_root = ?`
		args = append(args, workspaceRoot)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionMetadata applies a partial metadata update. Returns
// ErrNotFound if the session does not exist.
func (s *SQLiteStore) UpdateSessionMetadata(ctx context.Context, id string, update MetadataUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now()}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Flagged != nil {
		sets = append(sets, "flagged = ?")
		args = append(args, boolToInt(*update.Flagged))
	}
	if update.Unread != nil {
		sets = append(sets, "unread = ?")
		args = append(args, boolToInt(*update.Unread))
	}
	if update.Labels != nil {
		labels, err := json.Marshal(*update.Labels)
		if err != nil {
			return fmt.Errorf("encoding labels: %w", err)
		}
		sets = append(sets, "labels = ?")
		args = append(args, string(labels))
	}
	if update.WorkingDir != nil {
		sets = append(sets, "working_dir = ?")
		args = append(args, *update.WorkingDir)
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating session metadata: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and (via cascade) its messages.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceMessages overwrites the stored message timeline for a session with
// the given snapshot, and bumps the session's updated_at.
func (s *SQLiteStore) ReplaceMessages(ctx context.Context, sessionID string, messages []*session.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}

	for i, msg := range messages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_messages
				(session_id, seq, id, role, content, tool_name, tool_use_id, tool_input,
				 tool_status, tool_result, is_error, intent, display_name, turn_id,
				 parent_tool_use_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, i, msg.ID, string(msg.Role), msg.Content, msg.ToolName, msg.ToolUseID,
			string(msg.ToolInput), string(msg.ToolStatus), msg.ToolResult, boolToInt(msg.IsError),
			msg.Intent, msg.DisplayName, msg.TurnID, msg.ParentToolUseID, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), sessionID); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	return tx.Commit()
}

// GetMessages returns a session's stored message timeline in order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]*session.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, tool_name, tool_use_id, tool_input, tool_status,
		       tool_result, is_error, intent, display_name, turn_id, parent_tool_use_id, created_at
		FROM session_messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*session.Message
	for rows.Next() {
		var msg session.Message
		var role, toolInput, toolStatus string
		var isError int
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.ToolName, &msg.ToolUseID,
			&toolInput, &toolStatus, &msg.ToolResult, &isError, &msg.Intent,
			&msg.DisplayName, &msg.TurnID, &msg.ParentToolUseID, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = session.Role(role)
		msg.ToolStatus = session.ToolStatus(toolStatus)
		if toolInput != "" {
			msg.ToolInput = json.RawMessage(toolInput)
		}
		msg.IsError = isError != 0
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// UpsertWorkspace records a workspace root, updating name and last-opened time.
func (s *SQLiteStore) UpsertWorkspace(ctx context.Context, ws *Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (root, name, last_opened_at) VALUES (?, ?, ?)
		ON CONFLICT(root) DO UPDATE SET name = excluded.name, last_opened_at = excluded.last_opened_at`,
		ws.Root, ws.Name, ws.LastOpenedAt)
	if err != nil {
		return fmt.Errorf("upserting workspace: %w", err)
	}
	return nil
}

// ListWorkspaces returns known workspaces, most recently opened first.
func (s *SQLiteStore) ListWorkspaces(ctx context.Context) ([]*Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT root, name, last_opened_at FROM workspaces ORDER BY last_opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.Root, &ws.Name, &ws.LastOpenedAt); err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		workspaces = append(workspaces, &ws)
	}
	return workspaces, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var sess session.Session
	var flagged, unread int
	var labels string
	err := row.Scan(&sess.ID, &sess.WorkspaceRoot, &sess.Name, &flagged, &unread,
		&labels, &sess.WorkingDir, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.Flagged = flagged != 0
	sess.Unread = unread != 0
	if err := json.Unmarshal([]byte(labels), &sess.Labels); err != nil {
		return nil, fmt.Errorf("decoding labels: %w", err)
	}
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
