//go:build integration

package auditledger_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stayward/stayward/internal/auditledger"
	"go.uber.org/zap"
)

// setupPostgres expects the migrations in migrations/ to have been applied.
func setupPostgres(t *testing.T) *auditledger.PostgresLedger {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	t.Cleanup(db.Close)

	// TRUNCATE does not fire the row-level append-only trigger.
	if _, err := db.Exec(ctx, "TRUNCATE audit_log"); err != nil {
		t.Fatalf("truncate audit_log: %v", err)
	}
	return auditledger.NewPostgresLedger(db, zap.NewNop())
}

func TestPostgresLedger_roundTripVerifies(t *testing.T) {
	l := setupPostgres(t)

	meta := auditledger.Metadata{"durationMs": 12.5, "path": "/api/v1/stays/s1", "nested": map[string]any{"b": 1, "a": true}}
	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, "user-1", auditledger.ActionUpdate, "Stay", "s1", meta); err != nil {
			t.Fatal(err)
		}
	}

	report, err := l.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Entries != 3 {
		t.Errorf("Verify() = %+v, want 3 valid entries", report)
	}
}

func TestPostgresLedger_concurrentAppends(t *testing.T) {
	l := setupPostgres(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Append(ctx, "u", auditledger.ActionView, "Stay", "s1", nil); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	report, err := l.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Entries != 20 {
		t.Errorf("Verify() = %+v, want 20 valid entries", report)
	}

	page, err := l.Query(ctx, auditledger.Query{Action: auditledger.ActionView, Limit: 5, Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 20 || len(page.Entries) != 5 || page.TotalPages != 4 {
		t.Errorf("Query() = total %d len %d pages %d", page.Total, len(page.Entries), page.TotalPages)
	}
}
