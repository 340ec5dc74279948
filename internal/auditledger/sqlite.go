package auditledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stayward/stayward/internal/apperr"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	seq           INTEGER PRIMARY KEY,
	id            TEXT NOT NULL UNIQUE,
	actor_id      TEXT,
	action        TEXT NOT NULL,
	entity_name   TEXT NOT NULL,
	entity_id     TEXT,
	metadata      TEXT NOT NULL DEFAULT '{}',
	timestamp     TEXT NOT NULL,
	hash          TEXT NOT NULL,
	previous_hash TEXT UNIQUE
);
CREATE INDEX IF NOT EXISTS audit_log_entity_idx ON audit_log (entity_name, entity_id);
CREATE INDEX IF NOT EXISTS audit_log_actor_idx ON audit_log (actor_id);
CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;
CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;
`

// SQLiteLedger stores the audit chain in an embedded SQLite database.
// SQLite allows a single writer, so appends from this process are also
// serialised with a mutex before the write transaction starts.
type SQLiteLedger struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteLedger creates the schema if needed and returns the ledger.
func NewSQLiteLedger(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLiteLedger, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, apperr.Persistence("create audit_log schema", err)
	}
	return &SQLiteLedger{db: db, logger: logger}, nil
}

// Append implements Ledger.
func (l *SQLiteLedger) Append(ctx context.Context, actorID string, action Action, entityName, entityID string, metadata Metadata) (*Entry, error) {
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

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Persistence("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		tailSeq  int64
		tailHash string
		prev     *string
	)
	err = tx.QueryRowContext(ctx, "SELECT seq, hash FROM audit_log ORDER BY seq DESC LIMIT 1").Scan(&tailSeq, &tailHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
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

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Seq, entry.ID, entry.ActorID, string(entry.Action), entry.EntityName,
		entry.EntityID, string(metaJSON), formatTimestamp(entry.Timestamp), entry.Hash, entry.PreviousHash,
	); err != nil {
		return nil, apperr.Persistence("insert ledger entry", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Persistence("commit ledger tx", err)
	}

	l.logger.Debug("audit entry appended",
		zap.Int64("seq", entry.Seq),
		zap.String("action", string(entry.Action)),
		zap.String("entity", entry.EntityName),
	)
	return entry, nil
}

// Verify implements Ledger.
func (l *SQLiteLedger) Verify(ctx context.Context) (*IntegrityReport, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return nil, apperr.Persistence("query ledger", err)
	}
	defer func() { _ = rows.Close() }()

	v := newChainVerifier()
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
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
func (l *SQLiteLedger) Query(ctx context.Context, q Query) (*Page, error) {
	q = q.normalize()

	var (
		conds []string
		args  []any
	)
	if q.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, q.ActorID)
	}
	if q.EntityName != "" {
		conds = append(conds, "entity_name = ?")
		args = append(args, q.EntityName)
	}
	if q.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(q.Action))
	}
	// The fixed-width layout sorts lexically in time order.
	if !q.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTimestamp(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, formatTimestamp(q.To))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, apperr.Persistence("count ledger entries", err)
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_log`+where+` ORDER BY seq DESC LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.offset())...,
	)
	if err != nil {
		return nil, apperr.Persistence("query ledger entries", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
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
func (l *SQLiteLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, apperr.Persistence("count ledger entries", err)
	}
	return n, nil
}

// Root implements Ledger.
func (l *SQLiteLedger) Root(ctx context.Context) (string, error) {
	var hash string
	err := l.db.QueryRowContext(ctx, "SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1").Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Persistence("get ledger root", err)
	}
	return hash, nil
}

func scanSQLiteEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e        Entry
		action   string
		metaJSON string
		ts       string
		actorID  sql.NullString
		entityID sql.NullString
		prevHash sql.NullString
	)
	if err := rows.Scan(
		&e.Seq, &e.ID, &actorID, &action, &e.EntityName,
		&entityID, &metaJSON, &ts, &e.Hash, &prevHash,
	); err != nil {
		return nil, apperr.Persistence("scan ledger row", err)
	}
	parsed, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		return nil, apperr.Persistence("parse ledger timestamp", err)
	}
	meta, err := decodeMetadata([]byte(metaJSON))
	if err != nil {
		return nil, apperr.Persistence("decode ledger metadata", err)
	}
	e.Action = Action(action)
	e.Timestamp = parsed.UTC()
	e.Metadata = meta
	e.ActorID = nullString(actorID)
	e.EntityID = nullString(entityID)
	e.PreviousHash = nullString(prevHash)
	return &e, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
