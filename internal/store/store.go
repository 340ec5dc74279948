// Package store opens the configured persistence backend and hands out the
// ledger, stay repository and petition store built on it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/config"
	"github.com/stayward/stayward/internal/petitions"
	"github.com/stayward/stayward/internal/stays"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// Backend bundles the stores of one database.
type Backend struct {
	Driver    string
	Ledger    auditledger.Ledger
	Stays     stays.Repository
	Petitions petitions.Store

	ping  func(ctx context.Context) error
	close func()
}

// Ping checks that the database is reachable.
func (b *Backend) Ping(ctx context.Context) error { return b.ping(ctx) }

// Close releases the database connection.
func (b *Backend) Close() { b.close() }

// Open connects to the backend selected by cfg.Driver. PostgreSQL schemas are
// applied by cmd/migrate; SQLite schemas are created on open.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return &Backend{
			Driver:    cfg.Driver,
			Ledger:    auditledger.New(),
			Stays:     stays.NewMemoryRepository(),
			Petitions: petitions.NewMemoryStore(),
			ping:      func(context.Context) error { return nil },
			close:     func() {},
		}, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return &Backend{
			Driver:    cfg.Driver,
			Ledger:    auditledger.NewPostgresLedger(pool, logger),
			Stays:     stays.NewPostgresRepository(pool),
			Petitions: petitions.NewPostgresStore(pool),
			ping:      pool.Ping,
			close:     pool.Close,
		}, nil

	case config.DriverSQLite:
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b, err := sqliteBackend(ctx, db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// SQLiteDSN returns the driver DSN for the SQLite file at path. Transactions
// start with BEGIN IMMEDIATE so a ledger append takes the write lock before
// it reads the chain head.
func SQLiteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLite opens the SQLite file at path with a busy timeout and WAL
// journaling. A single connection is used; writers are serialised anyway.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func sqliteBackend(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Backend, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	ledger, err := auditledger.NewSQLiteLedger(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	repo, err := stays.NewSQLiteRepository(ctx, db)
	if err != nil {
		return nil, err
	}
	pets, err := petitions.NewSQLiteStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Driver:    config.DriverSQLite,
		Ledger:    ledger,
		Stays:     repo,
		Petitions: pets,
		ping:      db.PingContext,
		close:     func() { _ = db.Close() },
	}, nil
}
