package stays

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/stayward/stayward/internal/apperr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stays (
	id                  TEXT PRIMARY KEY,
	apartment_id        TEXT NOT NULL,
	guest_name          TEXT NOT NULL,
	notes               TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'SCHEDULED',
	scheduled_check_in  TEXT NOT NULL,
	scheduled_check_out TEXT NOT NULL,
	actual_check_in     TEXT,
	actual_check_out    TEXT,
	is_locked           INTEGER NOT NULL DEFAULT 0,
	locked_at           TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS stays_apartment_idx ON stays (apartment_id);
`

// SQLiteRepository stores stays in an embedded SQLite database. Times are
// stored as RFC 3339 text in UTC.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates the schema if needed and returns the repository.
func NewSQLiteRepository(ctx context.Context, db *sql.DB) (*SQLiteRepository, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, apperr.Persistence("create stays schema", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Create implements Repository.
func (r *SQLiteRepository) Create(ctx context.Context, s *Stay) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stays (`+stayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ApartmentID, s.GuestName, s.Notes, string(s.Status),
		formatTime(s.ScheduledCheckIn), formatTime(s.ScheduledCheckOut),
		formatTimePtr(s.ActualCheckIn), formatTimePtr(s.ActualCheckOut),
		s.IsLocked, formatTimePtr(s.LockedAt), formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return apperr.Persistence("insert stay", err)
	}
	return nil
}

// Get implements Repository.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Stay, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stayColumns+` FROM stays WHERE id = ?`, id)
	s, err := scanSQLiteStay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get stay", err)
	}
	return s, nil
}

// Update implements Repository.
func (r *SQLiteRepository) Update(ctx context.Context, s *Stay, prev time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE stays SET
			guest_name = ?, notes = ?, status = ?,
			scheduled_check_in = ?, scheduled_check_out = ?,
			actual_check_in = ?, actual_check_out = ?, updated_at = ?
		WHERE id = ? AND updated_at = ?`,
		s.GuestName, s.Notes, string(s.Status),
		formatTime(s.ScheduledCheckIn), formatTime(s.ScheduledCheckOut),
		formatTimePtr(s.ActualCheckIn), formatTimePtr(s.ActualCheckOut), formatTime(s.UpdatedAt),
		s.ID, formatTime(prev),
	)
	if err != nil {
		return apperr.Persistence("update stay", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM stays WHERE id = ?`, s.ID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperr.ErrNotFound
	case err != nil:
		return apperr.Persistence("update stay", err)
	}
	return apperr.ErrConflict
}

// Delete implements Repository.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM stays WHERE id = ?`, id)
	if err != nil {
		return apperr.Persistence("delete stay", err)
	}
	return requireRow(res)
}

// MarkLocked implements Repository.
func (r *SQLiteRepository) MarkLocked(ctx context.Context, id string, at time.Time) (time.Time, error) {
	stamp := formatTime(at)
	if _, err := r.db.ExecContext(ctx, `
		UPDATE stays SET is_locked = 1, locked_at = ?, updated_at = ?
		WHERE id = ? AND is_locked = 0`, stamp, stamp, id); err != nil {
		return time.Time{}, apperr.Persistence("lock stay", err)
	}

	var lockedAt sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT locked_at FROM stays WHERE id = ?`, id).Scan(&lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, apperr.ErrNotFound
	}
	if err != nil {
		return time.Time{}, apperr.Persistence("read stay lock", err)
	}
	t, err := parseTimePtr(lockedAt)
	if err != nil || t == nil {
		return time.Time{}, apperr.Persistence("read stay lock", errors.New("locked_at missing after lock"))
	}
	return *t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence("rows affected", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func scanSQLiteStay(row *sql.Row) (*Stay, error) {
	var (
		s                           Stay
		status                      string
		checkIn, checkOut           string
		created, updated            string
		actualIn, actualOut, locked sql.NullString
	)
	if err := row.Scan(
		&s.ID, &s.ApartmentID, &s.GuestName, &s.Notes, &status,
		&checkIn, &checkOut, &actualIn, &actualOut,
		&s.IsLocked, &locked, &created, &updated,
	); err != nil {
		return nil, err
	}
	s.Status = Status(status)

	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&s.ScheduledCheckIn, checkIn},
		{&s.ScheduledCheckOut, checkOut},
		{&s.CreatedAt, created},
		{&s.UpdatedAt, updated},
	} {
		if *f.dst, err = time.Parse(time.RFC3339Nano, f.src); err != nil {
			return nil, err
		}
	}
	if s.ActualCheckIn, err = parseTimePtr(actualIn); err != nil {
		return nil, err
	}
	if s.ActualCheckOut, err = parseTimePtr(actualOut); err != nil {
		return nil, err
	}
	if s.LockedAt, err = parseTimePtr(locked); err != nil {
		return nil, err
	}
	return &s, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
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
