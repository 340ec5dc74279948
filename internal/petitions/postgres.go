package petitions

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stayward/stayward/internal/apperr"
)

const petitionColumns = `id, record_id, requested_by, reason, status, admin_notes, reviewed_by, created_at, reviewed_at`

// pendingIndex is the partial unique index on (record_id) WHERE status = 'PENDING'.
const pendingIndex = "petitions_one_pending_idx"

// PostgresStore stores petitions in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreatePending implements Store. The partial unique index makes the
// single-pending check and the insert one atomic step.
func (s *PostgresStore) CreatePending(ctx context.Context, p *Petition) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO petitions (id, record_id, requested_by, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		p.ID, p.RecordID, p.RequesterID, p.Reason, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == pendingIndex {
			return apperr.ErrDuplicatePending
		}
		return apperr.Persistence("insert petition", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Petition, error) {
	p, err := scanPetition(s.db.QueryRow(ctx, `SELECT `+petitionColumns+` FROM petitions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get petition", err)
	}
	return p, nil
}

// Review implements Store.
func (s *PostgresStore) Review(ctx context.Context, id string, d Decision) (*Petition, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE petitions
		SET status = $2, reviewed_by = $3, admin_notes = $4, reviewed_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+petitionColumns,
		id, string(d.Status), d.ReviewerID, d.Notes, d.At.UTC(),
	)
	p, err := scanPetition(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Persistence("review petition", err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM petitions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, apperr.Persistence("review petition", err)
	}
	if !exists {
		return nil, apperr.ErrNotFound
	}
	return nil, apperr.ErrAlreadyReviewed
}

// LatestApproval implements Store.
func (s *PostgresStore) LatestApproval(ctx context.Context, recordID string) (*time.Time, error) {
	var at *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT MAX(reviewed_at) FROM petitions
		WHERE record_id = $1 AND status = 'APPROVED'`, recordID).Scan(&at)
	if err != nil {
		return nil, apperr.Persistence("latest approval", err)
	}
	return at, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, q ListQuery) ([]*Petition, int, error) {
	q = q.normalize()
	where := ` WHERE ($1 = '' OR status = $1) AND ($2 = '' OR record_id = $2)`
	args := []any{string(q.Status), q.RecordID}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM petitions`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Persistence("count petitions", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+petitionColumns+` FROM petitions`+where+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		append(args, q.Limit, q.offset())...,
	)
	if err != nil {
		return nil, 0, apperr.Persistence("list petitions", err)
	}
	defer rows.Close()

	var out []*Petition
	for rows.Next() {
		p, err := scanPetition(rows)
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

func scanPetition(row pgx.Row) (*Petition, error) {
	var (
		p      Petition
		status string
	)
	if err := row.Scan(
		&p.ID, &p.RecordID, &p.RequesterID, &p.Reason, &status,
		&p.ReviewerNotes, &p.ReviewerID, &p.CreatedAt, &p.ReviewedAt,
	); err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}
