package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// mysqlTimeLayout is the DATETIME(6) encoding used for created_at.
const mysqlTimeLayout = "2006-01-02 15:04:05.000000"

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for:
//   - Production deployments with multiple service replicas
//   - Audit trails and compliance requirements
//   - Checkpoint logs that survive process restarts
//
// Uses connection pooling; the checkpoints table is created on startup.
type MySQLStore struct {
	db *sql.DB

	mu       sync.Mutex
	lastTime time.Time
}

// NewMySQLStore creates a new MySQL-backed checkpoint store.
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example:
//
//	user:pass@tcp(localhost:3306)/bankflow?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment or config.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(64) NOT NULL UNIQUE,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			metadata JSON NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_checkpoints_session (session_id),
			INDEX idx_checkpoints_id (checkpoint_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

// Save appends a checkpoint for the session.
func (m *MySQLStore) Save(ctx context.Context, sessionID, nodeID string, state any, metadata map[string]any) (string, error) {
	stateJSON, metaJSON, err := marshalState(state, metadata)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	createdAt := m.nextTimestamp()

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, checkpoint_id, node_id, state, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, id, nodeID, string(stateJSON), string(metaJSON), createdAt.Format(mysqlTimeLayout))
	if err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return id, nil
}

// nextTimestamp returns a timestamp strictly greater than any previously
// issued one, at microsecond resolution to match DATETIME(6). Callers must
// hold m.mu.
func (m *MySQLStore) nextTimestamp() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(m.lastTime) {
		now = m.lastTime.Add(time.Microsecond)
	}
	m.lastTime = now
	return now
}

// LoadLatest returns the most recent checkpoint for the session.
func (m *MySQLStore) LoadLatest(ctx context.Context, sessionID string) (Checkpoint, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, node_id, state, metadata, created_at
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, sessionID)

	cp, err := scanCheckpoint(row, sessionID, mysqlTimeLayout)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// List returns all checkpoints for the session in chronological order.
func (m *MySQLStore) List(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	rows, err := m.db.QueryContext(ctx, `
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
		cp, err := scanCheckpoint(rows, sessionID, mysqlTimeLayout)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Clear removes all checkpoints for the session.
func (m *MySQLStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := m.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (m *MySQLStore) Close() error {
	return m.db.Close()
}

// Ping verifies the database connection is alive. Used by health checks.
func (m *MySQLStore) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
