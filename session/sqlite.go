package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded session backend. It shares the single-file
// database conventions of the checkpoint store: WAL mode, one writer
// connection, tables created on startup.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed session store
// at path. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			workflow_type TEXT NOT NULL,
			status TEXT NOT NULL,
			current_node TEXT NOT NULL DEFAULT '',
			execution_count INTEGER NOT NULL DEFAULT 0,
			conversation_history TEXT NOT NULL DEFAULT '[]',
			last_response TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Create registers a new active session.
func (s *SQLiteStore) Create(ctx context.Context, userID, workflowType string) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		WorkflowType: workflowType,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, workflow_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.WorkflowType, string(sess.Status),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Get returns the session, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, workflow_type, status, current_node,
		       execution_count, conversation_history, last_response, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// Update writes the full record and stamps UpdatedAt.
func (s *SQLiteStore) Update(ctx context.Context, sess Session) error {
	history, err := json.Marshal(sess.ConversationHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	var lastResponse any
	if sess.LastResponse != nil {
		lastResponse = string(sess.LastResponse)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			user_id = ?, workflow_type = ?, status = ?, current_node = ?,
			execution_count = ?, conversation_history = ?, last_response = ?, updated_at = ?
		WHERE session_id = ?`,
		sess.UserID, sess.WorkflowType, string(sess.Status), sess.CurrentNode,
		sess.ExecutionCount, string(history), lastResponse,
		time.Now().UTC().Format(time.RFC3339Nano), sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(res)
}

// UpdateStatus validates and applies a lifecycle transition.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, sessionID string, status Status) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanTransition(sess.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, status)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?",
		string(status), time.Now().UTC().Format(time.RFC3339Nano), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// AppendMessage adds one history entry.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.ConversationHistory = append(sess.ConversationHistory, msg)
	return s.Update(ctx, sess)
}

// ListByUser returns the user's sessions, newest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, workflow_type, status, current_node,
		       execution_count, conversation_history, last_response, created_at, updated_at
		FROM sessions WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Delete removes the session record.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireRow(res)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sessionScanner interface {
	Scan(dest ...any) error
}

func scanSession(row sessionScanner) (Session, error) {
	var (
		sess         Session
		status       string
		history      string
		lastResponse sql.NullString
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.WorkflowType, &status,
		&sess.CurrentNode, &sess.ExecutionCount, &history, &lastResponse,
		&createdAt, &updatedAt)
	if err != nil {
		return Session{}, err
	}

	sess.Status = Status(status)
	if err := json.Unmarshal([]byte(history), &sess.ConversationHistory); err != nil {
		return Session{}, fmt.Errorf("corrupt conversation history: %w", err)
	}
	if lastResponse.Valid {
		sess.LastResponse = json.RawMessage(lastResponse.String)
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Session{}, fmt.Errorf("corrupt created_at: %w", err)
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Session{}, fmt.Errorf("corrupt updated_at: %w", err)
	}
	return sess, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
