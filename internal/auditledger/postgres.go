package auditledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stayward/stayward/internal/apperr"
	"go.uber.org/zap"
)

// advisoryLockKey serialises Append across every process sharing the
// database. The value is arbitrary but must be the same everywhere.
const advisoryLockKey = int64(2_024_052_311)

const entryColumns = `seq, id, actor_id, action, entity_name, entity_id, metadata, timestamp, hash, previous_hash`

// PostgresLedger persists the audit chain in the audit_log table.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger.
// It takes a transaction-scoped advisory lock, reads the tail, computes the
// new hash and inserts the entry before committing.
func (l *PostgresLedger) Append(ctx context.Context, actorID string, action Action, entityName, entityID string, metadata Metadata) (*Entry, error) {
	if !action.Valid() {
		return nil, apperr.Validation("unknown audit action %q", action)
	}
	if entityName == "" {
		return nil, apperr.Validation("entity name is required")
	}
	meta, err := normalizeMetadata(metadata)
	if err != nil {
		return nil, apperr.Validation("metadata: %v", err)
	}
	metaJSON, err := encodeMetadata(meta)
	if err != nil {
		return nil, apperr.Validation("metadata: %v", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Persistence("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Released automatically on commit or rollback.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, apperr.Persistence("acquire advisory lock", err)
	}

	var (
		tailSeq int64
		prev    *string
	)
	var tailHash string
	err = tx.QueryRow(ctx, "SELECT seq, hash FROM audit_log ORDER BY seq DESC LIMIT 1").Scan(&tailSeq, &tailHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, apperr.Persistence("read ledger tail", err)
	default:
		prev = &tailHash
	}

	entry := &Entry{
		ID:           uuid.NewString(),
		Seq:          tailSeq + 1,
		ActorID:      optional(actorID),
		Action:       action,
		EntityName:   entityName,
		EntityID:     optional(entityID),
		Metadata:     meta,
		Timestamp:    now(),
		PreviousHash: prev,
	}
	if entry.Hash, err = computeHash(entry, prev); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.Seq, entry.ID, entry.ActorID, string(entry.Action), entry.EntityName,
		entry.EntityID, metaJSON, entry.Timestamp, entry.Hash, entry.PreviousHash,
	); err != nil {
		return nil, apperr.Persistence("insert ledger entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Persistence("commit ledger tx", err)
	}

	l.logger.Debug("audit entry appended",
		zap.Int64("seq", entry.Seq),
		zap.String("action", string(entry.Action)),
		zap.String("entity", entry.EntityName),
	)
	return entry, nil
}

// Verify implements Ledger. It streams rows in seq order; O(n) in the
// length of the chain.
func (l *PostgresLedger) Verify(ctx context.Context) (*IntegrityReport, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return nil, apperr.Persistence("query ledger", err)
	}
	defer rows.Close()

	v := newChainVerifier()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		v.check(e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate ledger", err)
	}
	return v.report(), nil
}

// Query implements Ledger.
func (l *PostgresLedger) Query(ctx context.Context, q Query) (*Page, error) {
	q = q.normalize()

	where := `
		WHERE ($1 = '' OR actor_id = $1)
		  AND ($2 = '' OR entity_name = $2)
		  AND ($3 = '' OR action = $3)
		  AND ($4::timestamptz IS NULL OR timestamp >= $4)
		  AND ($5::timestamptz IS NULL OR timestamp <= $5)`
	args := []any{q.ActorID, q.EntityName, string(q.Action), nullTime(q.From), nullTime(q.To)}

	var total int
	if err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, apperr.Persistence("count ledger entries", err)
	}

	rows, err := l.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM audit_log`+where+` ORDER BY seq DESC LIMIT $6 OFFSET $7`,
		append(args, q.Limit, q.offset())...,
	)
	if err != nil {
		return nil, apperr.Persistence("query ledger entries", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate ledger entries", err)
	}
	return newPage(q, entries, total), nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, apperr.Persistence("count ledger entries", err)
	}
	return n, nil
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	err := l.pool.QueryRow(ctx, "SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1").Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Persistence("get ledger root", err)
	}
	return hash, nil
}

func scanEntry(rows pgx.Rows) (*Entry, error) {
	var (
		e        Entry
		action   string
		metaJSON []byte
	)
	if err := rows.Scan(
		&e.Seq, &e.ID, &e.ActorID, &action, &e.EntityName,
		&e.EntityID, &metaJSON, &e.Timestamp, &e.Hash, &e.PreviousHash,
	); err != nil {
		return nil, apperr.Persistence("scan ledger row", err)
	}
	e.Action = Action(action)
	e.Timestamp = e.Timestamp.UTC()
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, apperr.Persistence("decode ledger metadata", err)
	}
	e.Metadata = meta
	return &e, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
