// cmd/migrate applies the migrations/*.up.sql files to the PostgreSQL database
// named by database.url (env DATABASE_URL). It keeps the schema_migrations
// table in the golang-migrate format (bigint version + dirty flag) so the two
// tools are interchangeable.
//
// Usage:
//
//	go run ./cmd/migrate
//	DATABASE_URL=postgres://... MIGRATIONS_DIR=./migrations go run ./cmd/migrate
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stayward/stayward/internal/config"
	"go.uber.org/zap"
)

type migration struct {
	version int64
	name    string
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	v := config.New()
	v.SetDefault("migrations_dir", "migrations")
	cfg, _, err := config.Load(v)
	if err != nil {
		return err
	}
	dir := v.GetString("migrations_dir")

	files, err := collectMigrations(dir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to database")

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version bigint NOT NULL,
			dirty   boolean NOT NULL,
			PRIMARY KEY (version)
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := 0
	for _, m := range files {
		var dirty *bool
		err := db.QueryRow(ctx, `SELECT dirty FROM schema_migrations WHERE version = $1`, m.version).Scan(&dirty)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check %s: %w", m.name, err)
		}
		if dirty != nil && !*dirty {
			logger.Debug("skip migration", zap.String("file", m.name))
			continue
		}
		if dirty != nil && *dirty {
			return fmt.Errorf("migration %s is marked dirty; fix the schema by hand and clear the flag", m.name)
		}

		if err := apply(ctx, db, dir, m); err != nil {
			return err
		}
		logger.Info("applied migration", zap.String("file", m.name))
		applied++
	}

	logger.Info("migrations complete", zap.Int("applied", applied), zap.Int("total", len(files)))
	return nil
}

// apply runs one migration and records it in the same transaction, so a
// failure leaves neither the schema change nor the version row behind.
func apply(ctx context.Context, db *pgxpool.Pool, dir string, m migration) error {
	sql, err := os.ReadFile(filepath.Join(dir, m.name))
	if err != nil {
		return fmt.Errorf("read %s: %w", m.name, err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", m.name, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply %s: %w", m.name, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, dirty) VALUES ($1, false)`, m.version,
	); err != nil {
		return fmt.Errorf("record %s: %w", m.name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", m.name, err)
	}
	return nil
}

// collectMigrations lists the *.up.sql files in dir ordered by version.
func collectMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []migration
	seen := make(map[int64]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		ver, err := versionFromFile(e.Name())
		if err != nil {
			return nil, fmt.Errorf("parse version from %s: %w", e.Name(), err)
		}
		if prev, dup := seen[ver]; dup {
			return nil, fmt.Errorf("version %d used by both %s and %s", ver, prev, e.Name())
		}
		seen[ver] = e.Name()
		out = append(out, migration{version: ver, name: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// versionFromFile extracts the leading integer from a migration filename.
// "001_audit_log.up.sql" → 1
func versionFromFile(filename string) (int64, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("unexpected filename format")
	}
	return strconv.ParseInt(prefix, 10, 64)
}
