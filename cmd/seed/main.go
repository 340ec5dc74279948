// cmd/seed creates demo stays for development, one of them already past the
// lock threshold so the petition workflow can be tried straight away.
//
// Running twice is safe: stays are keyed by a name-derived UUID and existing
// ones are left alone.
//
// Usage:
//
//	DATABASE_DRIVER=sqlite go run ./cmd/seed
//	DATABASE_DRIVER=postgres DATABASE_URL=postgres://... go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stayward/stayward/internal/apperr"
	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/config"
	"github.com/stayward/stayward/internal/governor"
	"github.com/stayward/stayward/internal/lockpolicy"
	"github.com/stayward/stayward/internal/stays"
	"github.com/stayward/stayward/internal/store"
	"go.uber.org/zap"
)

// seedNamespace derives stable stay IDs from seed names.
var seedNamespace = uuid.MustParse("6f1c3f0e-52d4-4f7e-9a55-1e0c7a2f4b11")

type seedStay struct {
	name        string
	apartmentID string
	guestName   string
	notes       string
	// checkIn is relative to the time the seed runs.
	checkIn time.Duration
	nights  int
}

var seedStays = []seedStay{
	{"upcoming", "apt-101", "Maya Okafor", "arrives by train", 72 * time.Hour, 3},
	{"today", "apt-102", "Jonas Berg", "", 2 * time.Hour, 2},
	{"recent", "apt-201", "Priya Raman", "early check-in requested", -12 * time.Hour, 4},
	{"past-threshold", "apt-202", "Tomás Alves", "invoice sent", -30 * time.Hour, 2},
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, _, err := config.Load(config.New())
	if err != nil {
		return err
	}
	if cfg.Database.Driver == config.DriverMemory {
		return fmt.Errorf("seeding the memory driver has no effect; set DATABASE_DRIVER to postgres or sqlite")
	}

	ctx := context.Background()
	backend, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	svc := stays.NewService(backend.Stays, logger)
	policy := lockpolicy.New(stays.EntityName, svc, lockpolicy.WithThreshold(cfg.Lock.Threshold))
	gov := governor.New(backend.Ledger, logger)

	now := time.Now().UTC().Truncate(time.Minute)
	created := 0
	for _, s := range seedStays {
		ok, err := seed(ctx, backend.Stays, gov, s, now)
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.name, err)
		}
		if ok {
			created++
		}
		id := seedID(s.name)
		_, d, err := policy.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("evaluate lock for %s: %w", s.name, err)
		}
		logger.Info("seed stay",
			zap.String("name", s.name),
			zap.String("id", id),
			zap.Bool("locked", d.Locked),
		)
	}
	logger.Info("seed complete", zap.Int("created", created), zap.Int("total", len(seedStays)))
	return nil
}

func seedID(name string) string {
	return uuid.NewSHA1(seedNamespace, []byte(name)).String()
}

// seed stores s unless it already exists and records a system CREATE entry.
func seed(ctx context.Context, repo stays.Repository, gov *governor.Governor, s seedStay, now time.Time) (bool, error) {
	id := seedID(s.name)
	if _, err := repo.Get(ctx, id); err == nil {
		return false, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}

	checkIn := now.Add(s.checkIn)
	stay := &stays.Stay{
		ID:                id,
		ApartmentID:       s.apartmentID,
		GuestName:         s.guestName,
		Notes:             s.notes,
		Status:            stays.StatusScheduled,
		ScheduledCheckIn:  checkIn,
		ScheduledCheckOut: checkIn.Add(time.Duration(s.nights) * 24 * time.Hour),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := repo.Create(ctx, stay); err != nil {
		return false, err
	}
	if _, err := gov.Record(ctx, governor.Actor{}, governor.VerbCreate, stays.EntityName, id,
		auditledger.Metadata{"source": "seed", "apartmentId": s.apartmentID}); err != nil {
		return true, fmt.Errorf("audit seed: %w", err)
	}
	return true, nil
}
