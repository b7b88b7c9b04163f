package approval

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded approval backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed approval store
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
		CREATE TABLE IF NOT EXISTS approvals (
			approval_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			workflow_type TEXT NOT NULL,
			request_data TEXT,
			status TEXT NOT NULL,
			amount REAL NOT NULL DEFAULT 0,
			recipient TEXT NOT NULL DEFAULT '',
			timeout_seconds INTEGER NOT NULL DEFAULT 0,
			requested_at TEXT NOT NULL,
			approved_at TEXT,
			approver_id TEXT NOT NULL DEFAULT '',
			rejection_reason TEXT NOT NULL DEFAULT ''
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create approvals table: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_approvals_session ON approvals(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status)",
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Create registers a pending request.
func (s *SQLiteStore) Create(ctx context.Context, req Request) (Request, error) {
	if _, err := s.PendingForSession(ctx, req.SessionID); err == nil {
		return Request{}, fmt.Errorf("%w: session %s has a pending request", ErrConflict, req.SessionID)
	} else if err != ErrNotFound {
		return Request{}, err
	}

	req.ID = uuid.NewString()
	req.Status = StatusPending
	req.RequestedAt = time.Now().UTC()
	req.ApprovedAt = nil

	var requestData any
	if req.RequestData != nil {
		requestData = string(req.RequestData)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (approval_id, session_id, workflow_type, request_data,
			status, amount, recipient, timeout_seconds, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.SessionID, req.WorkflowType, requestData,
		string(req.Status), req.Amount, req.Recipient, req.TimeoutSeconds,
		req.RequestedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Request{}, fmt.Errorf("failed to create approval request: %w", err)
	}
	return req, nil
}

// Get returns the request, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, approvalID string) (Request, error) {
	row := s.db.QueryRowContext(ctx, selectApproval+" WHERE approval_id = ?", approvalID)
	req, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("failed to load approval request: %w", err)
	}
	return req, nil
}

// Approve moves a pending request to approved.
func (s *SQLiteStore) Approve(ctx context.Context, approvalID, approverID, reason string) (Request, error) {
	return s.decide(ctx, approvalID, approverID, reason, StatusApproved)
}

// Reject moves a pending request to rejected.
func (s *SQLiteStore) Reject(ctx context.Context, approvalID, approverID, reason string) (Request, error) {
	return s.decide(ctx, approvalID, approverID, reason, StatusRejected)
}

func (s *SQLiteStore) decide(ctx context.Context, approvalID, approverID, reason string, target Status) (Request, error) {
	req, err := s.Get(ctx, approvalID)
	if err != nil {
		return Request{}, err
	}
	if req.Status == StatusApproved && target == StatusApproved {
		return req, nil
	}
	if req.Decided() {
		return Request{}, fmt.Errorf("%w: status is %s", ErrConflict, req.Status)
	}

	// rejection_reason is an audit field for rejections only; an approve
	// reason rides in the workflow decision instead.
	if target != StatusRejected {
		reason = ""
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, approver_id = ?, rejection_reason = ?, approved_at = ?
		WHERE approval_id = ? AND status = ?`,
		string(target), approverID, reason, now.Format(time.RFC3339Nano),
		approvalID, string(StatusPending))
	if err != nil {
		return Request{}, fmt.Errorf("failed to update approval request: %w", err)
	}
	return s.Get(ctx, approvalID)
}

// ListPending returns all pending requests, oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx,
		selectApproval+" WHERE status = ? ORDER BY requested_at ASC", string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Request
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// PendingForSession returns the session's pending request.
func (s *SQLiteStore) PendingForSession(ctx context.Context, sessionID string) (Request, error) {
	row := s.db.QueryRowContext(ctx,
		selectApproval+" WHERE session_id = ? AND status = ? ORDER BY requested_at DESC LIMIT 1",
		sessionID, string(StatusPending))
	req, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("failed to load pending approval: %w", err)
	}
	return req, nil
}

// LatestForSession returns the session's most recent request.
func (s *SQLiteStore) LatestForSession(ctx context.Context, sessionID string) (Request, error) {
	row := s.db.QueryRowContext(ctx,
		selectApproval+" WHERE session_id = ? ORDER BY requested_at DESC, rowid DESC LIMIT 1",
		sessionID)
	req, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("failed to load latest approval: %w", err)
	}
	return req, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectApproval = `
	SELECT approval_id, session_id, workflow_type, request_data, status,
	       amount, recipient, timeout_seconds, requested_at, approved_at,
	       approver_id, rejection_reason
	FROM approvals`

type approvalScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row approvalScanner) (Request, error) {
	var (
		req         Request
		requestData sql.NullString
		status      string
		requestedAt string
		approvedAt  sql.NullString
	)
	err := row.Scan(&req.ID, &req.SessionID, &req.WorkflowType, &requestData,
		&status, &req.Amount, &req.Recipient, &req.TimeoutSeconds,
		&requestedAt, &approvedAt, &req.ApproverID, &req.RejectionReason)
	if err != nil {
		return Request{}, err
	}

	req.Status = Status(status)
	if requestData.Valid {
		req.RequestData = []byte(requestData.String)
	}
	if req.RequestedAt, err = time.Parse(time.RFC3339Nano, requestedAt); err != nil {
		return Request{}, fmt.Errorf("corrupt requested_at: %w", err)
	}
	if approvedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, approvedAt.String)
		if err != nil {
			return Request{}, fmt.Errorf("corrupt approved_at: %w", err)
		}
		req.ApprovedAt = &t
	}
	return req, nil
}
