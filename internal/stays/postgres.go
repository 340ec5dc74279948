package stays

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stayward/stayward/internal/apperr"
)

const stayColumns = `id, apartment_id, guest_name, notes, status,
	scheduled_check_in, scheduled_check_out, actual_check_in, actual_check_out,
	is_locked, locked_at, created_at, updated_at`

// PostgresRepository stores stays in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create implements Repository.
func (r *PostgresRepository) Create(ctx context.Context, s *Stay) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO stays (`+stayColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.ApartmentID, s.GuestName, s.Notes, string(s.Status),
		s.ScheduledCheckIn, s.ScheduledCheckOut, s.ActualCheckIn, s.ActualCheckOut,
		s.IsLocked, s.LockedAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return apperr.Persistence("insert stay", err)
	}
	return nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Stay, error) {
	row := r.db.QueryRow(ctx, `SELECT `+stayColumns+` FROM stays WHERE id = $1`, id)
	s, err := scanStay(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get stay", err)
	}
	return s, nil
}

// Update implements Repository.
func (r *PostgresRepository) Update(ctx context.Context, s *Stay, prev time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE stays SET
			guest_name = $2, notes = $3, status = $4,
			scheduled_check_in = $5, scheduled_check_out = $6,
			actual_check_in = $7, actual_check_out = $8, updated_at = $9
		WHERE id = $1 AND updated_at = $10`,
		s.ID, s.GuestName, s.Notes, string(s.Status),
		s.ScheduledCheckIn, s.ScheduledCheckOut,
		s.ActualCheckIn, s.ActualCheckOut, s.UpdatedAt, prev,
	)
	if err != nil {
		return apperr.Persistence("update stay", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stays WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
		return apperr.Persistence("update stay", err)
	}
	if !exists {
		return apperr.ErrNotFound
	}
	return apperr.ErrConflict
}

// Delete implements Repository.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM stays WHERE id = $1`, id)
	if err != nil {
		return apperr.Persistence("delete stay", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// MarkLocked implements Repository. The conditional UPDATE is the
// compare-and-set; the follow-up SELECT runs in a fresh snapshot so it sees
// whichever writer won.
func (r *PostgresRepository) MarkLocked(ctx context.Context, id string, at time.Time) (time.Time, error) {
	if _, err := r.db.Exec(ctx, `
		UPDATE stays SET is_locked = TRUE, locked_at = $2, updated_at = $2
		WHERE id = $1 AND is_locked = FALSE`, id, at.UTC()); err != nil {
		return time.Time{}, apperr.Persistence("lock stay", err)
	}

	var lockedAt *time.Time
	err := r.db.QueryRow(ctx, `SELECT locked_at FROM stays WHERE id = $1`, id).Scan(&lockedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, apperr.ErrNotFound
	}
	if err != nil {
		return time.Time{}, apperr.Persistence("read stay lock", err)
	}
	if lockedAt == nil {
		return time.Time{}, apperr.Persistence("read stay lock", errors.New("locked_at is null after lock"))
	}
	return lockedAt.UTC(), nil
}

func scanStay(row pgx.Row) (*Stay, error) {
	var (
		s      Stay
		status string
	)
	if err := row.Scan(
		&s.ID, &s.ApartmentID, &s.GuestName, &s.Notes, &status,
		&s.ScheduledCheckIn, &s.ScheduledCheckOut, &s.ActualCheckIn, &s.ActualCheckOut,
		&s.IsLocked, &s.LockedAt, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	return &s, nil
}
