package petitions

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/stayward/stayward/internal/apperr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS petitions (
	id           TEXT PRIMARY KEY,
	record_id    TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	reason       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING',
	admin_notes  TEXT,
	reviewed_by  TEXT,
	created_at   TEXT NOT NULL,
	reviewed_at  TEXT,
	updated_at   TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS petitions_one_pending_idx
	ON petitions (record_id) WHERE status = 'PENDING';
CREATE TRIGGER IF NOT EXISTS petitions_reason_guard BEFORE UPDATE OF reason ON petitions
	WHEN NEW.reason IS NOT OLD.reason
BEGIN SELECT RAISE(ABORT, 'petition reason cannot be changed'); END;
`

// SQLiteStore stores petitions in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the schema if needed and returns the store.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, apperr.Persistence("create petitions schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreatePending implements Store. The insert is conditional on no pending
// petition existing; a single statement is atomic under SQLite's one-writer
// rule, and the partial unique index backs it up.
func (s *SQLiteStore) CreatePending(ctx context.Context, p *Petition) error {
	created := formatTime(p.CreatedAt)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO petitions (id, record_id, requested_by, reason, status, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM petitions WHERE record_id = ? AND status = 'PENDING'
		)`,
		p.ID, p.RecordID, p.RequesterID, p.Reason, string(p.Status), created, created, p.RecordID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperr.ErrDuplicatePending
		}
		return apperr.Persistence("insert petition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence("insert petition", err)
	}
	if n == 0 {
		return apperr.ErrDuplicatePending
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Petition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+petitionColumns+` FROM petitions WHERE id = ?`, id)
	if err != nil {
		return nil, apperr.Persistence("get petition", err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, apperr.Persistence("get petition", err)
		}
		return nil, apperr.ErrNotFound
	}
	p, err := scanSQLitePetition(rows)
	if err != nil {
		return nil, apperr.Persistence("scan petition", err)
	}
	return p, nil
}

// Review implements Store.
func (s *SQLiteStore) Review(ctx context.Context, id string, d Decision) (*Petition, error) {
	at := formatTime(d.At)
	res, err := s.db.ExecContext(ctx, `
		UPDATE petitions
		SET status = ?, reviewed_by = ?, admin_notes = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'`,
		string(d.Status), d.ReviewerID, d.Notes, at, at, id,
	)
	if err != nil {
		return nil, apperr.Persistence("review petition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, apperr.Persistence("review petition", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperr.ErrAlreadyReviewed
	}
	return s.Get(ctx, id)
}

// LatestApproval implements Store.
func (s *SQLiteStore) LatestApproval(ctx context.Context, recordID string) (*time.Time, error) {
	var at sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT reviewed_at FROM petitions
		WHERE record_id = ? AND status = 'APPROVED'
		ORDER BY reviewed_at DESC LIMIT 1`, recordID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("latest approval", err)
	}
	t, err := parseTimePtr(at)
	if err != nil {
		return nil, apperr.Persistence("latest approval", err)
	}
	return t, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, q ListQuery) ([]*Petition, int, error) {
	q = q.normalize()
	var (
		conds []string
		args  []any
	)
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.RecordID != "" {
		conds = append(conds, "record_id = ?")
		args = append(args, q.RecordID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM petitions`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Persistence("count petitions", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+petitionColumns+` FROM petitions`+where+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.offset())...,
	)
	if err != nil {
		return nil, 0, apperr.Persistence("list petitions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Petition
	for rows.Next() {
		p, err := scanSQLitePetition(rows)
		if err != nil {
			return nil, 0, apperr.Persistence("scan petition", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Persistence("list petitions", err)
	}
	return out, total, nil
}

func scanSQLitePetition(rows *sql.Rows) (*Petition, error) {
	var (
		p                    Petition
		status, created      string
		notes, reviewer, rev sql.NullString
	)
	if err := rows.Scan(
		&p.ID, &p.RecordID, &p.RequesterID, &p.Reason, &status,
		&notes, &reviewer, &created, &rev,
	); err != nil {
		return nil, err
	}
	p.Status = Status(status)
	if notes.Valid {
		p.ReviewerNotes = &notes.String
	}
	if reviewer.Valid {
		p.ReviewerID = &reviewer.String
	}
	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, err
	}
	if p.ReviewedAt, err = parseTimePtr(rev); err != nil {
		return nil, err
	}
	return &p, nil
}

// timeLayout is fixed width so that text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
