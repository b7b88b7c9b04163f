package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded checkpoint backend.
//
// It stores the per-session checkpoint log in a single-file database.
// Designed for:
//   - Single-process deployments needing durable checkpoints
//   - Development and testing with zero setup (":memory:")
//
// Uses WAL mode for concurrent reads and a single writer connection.
type SQLiteStore struct {
	db *sql.DB

	// mu serializes writes so per-session created_at stays strictly
	// increasing even when two saves land in the same clock tick.
	mu       sync.Mutex
	lastTime time.Time

	path string
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed checkpoint
// store at path. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

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

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			checkpoint_id TEXT UNIQUE NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			metadata TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_id ON checkpoints(checkpoint_id)",
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Save appends a checkpoint for the session.
func (s *SQLiteStore) Save(ctx context.Context, sessionID, nodeID string, state any, metadata map[string]any) (string, error) {
	stateJSON, metaJSON, err := marshalState(state, metadata)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	createdAt := s.nextTimestamp()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, checkpoint_id, node_id, state, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, id, nodeID, string(stateJSON), string(metaJSON), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) nextTimestamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastTime) {
		now = s.lastTime.Add(time.Nanosecond)
	}
	s.lastTime = now
	return now
}

// LoadLatest returns the most recent checkpoint for the session.
func (s *SQLiteStore) LoadLatest(ctx context.Context, sessionID string) (Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, node_id, state, metadata, created_at
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, sessionID)

	cp, err := scanCheckpoint(row, sessionID, time.RFC3339Nano)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// List returns all checkpoints for the session in chronological order.
func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, node_id, state, metadata, created_at
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows, sessionID, time.RFC3339Nano)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Clear removes all checkpoints for the session.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
