package stays_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/stayward/stayward/internal/apperr"
	"github.com/stayward/stayward/internal/lockpolicy"
	"github.com/stayward/stayward/internal/stays"
)

var ctx = context.Background()

func repositories(t *testing.T) map[string]stays.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	sqliteRepo, err := stays.NewSQLiteRepository(ctx, db)
	require.NoError(t, err)

	return map[string]stays.Repository{
		"memory": stays.NewMemoryRepository(),
		"sqlite": sqliteRepo,
	}
}

func validCreate(checkIn time.Time) stays.CreateRequest {
	return stays.CreateRequest{
		ApartmentID:       "apt-101",
		GuestName:         "Ada Guest",
		ScheduledCheckIn:  checkIn,
		ScheduledCheckOut: checkIn.Add(72 * time.Hour),
	}
}

func TestService_CreateGetUpdate(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			svc := stays.NewService(repo, zap.NewNop())
			checkIn := time.Date(2024, 7, 1, 15, 0, 0, 0, time.UTC)

			created, err := svc.Create(ctx, validCreate(checkIn))
			require.NoError(t, err)
			assert.Equal(t, stays.StatusScheduled, created.Status)
			assert.False(t, created.IsLocked)

			got, err := svc.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, created.ApartmentID, got.ApartmentID)
			assert.True(t, got.ScheduledCheckIn.Equal(checkIn))

			notes := "late arrival"
			updated, err := svc.Update(ctx, created.ID, stays.UpdateRequest{Notes: &notes})
			require.NoError(t, err)
			assert.Equal(t, notes, updated.Notes)
			assert.Equal(t, "Ada Guest", updated.GuestName)
		})
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc := stays.NewService(stays.NewMemoryRepository(), zap.NewNop())
	checkIn := time.Now()

	bad := []stays.CreateRequest{
		{GuestName: "x", ScheduledCheckIn: checkIn, ScheduledCheckOut: checkIn.Add(time.Hour)},
		{ApartmentID: "a", ScheduledCheckIn: checkIn, ScheduledCheckOut: checkIn.Add(time.Hour)},
		{ApartmentID: "a", GuestName: "x"},
		{ApartmentID: "a", GuestName: "x", ScheduledCheckIn: checkIn, ScheduledCheckOut: checkIn},
	}
	for i, req := range bad {
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, apperr.ErrValidation, "case %d", i)
	}
}

func TestService_UpdateValidation(t *testing.T) {
	svc := stays.NewService(stays.NewMemoryRepository(), zap.NewNop())
	created, err := svc.Create(ctx, validCreate(time.Now()))
	require.NoError(t, err)

	_, err = svc.Update(ctx, created.ID, stays.UpdateRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	bogus := stays.Status("ARCHIVED")
	_, err = svc.Update(ctx, created.ID, stays.UpdateRequest{Status: &bogus})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	early := created.ScheduledCheckIn.Add(-time.Hour)
	_, err = svc.Update(ctx, created.ID, stays.UpdateRequest{ScheduledCheckOut: &early})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	notes := "x"
	_, err = svc.Update(ctx, "missing", stays.UpdateRequest{Notes: &notes})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_CheckInCheckOut(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			svc := stays.NewService(repo, zap.NewNop())
			now := time.Date(2024, 7, 1, 16, 30, 0, 0, time.UTC)
			svc.SetClock(func() time.Time { return now })

			created, err := svc.Create(ctx, validCreate(now.Add(-time.Hour)))
			require.NoError(t, err)

			in, err := svc.CheckIn(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, stays.StatusCheckedIn, in.Status)
			require.NotNil(t, in.ActualCheckIn)
			assert.True(t, in.ActualCheckIn.Equal(now))

			out, err := svc.CheckOut(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, stays.StatusCheckedOut, out.Status)
			require.NotNil(t, out.ActualCheckOut)

			_, err = svc.CheckIn(ctx, "missing")
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}

func TestService_Delete(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			svc := stays.NewService(repo, zap.NewNop())
			created, err := svc.Create(ctx, validCreate(time.Now()))
			require.NoError(t, err)

			require.NoError(t, svc.Delete(ctx, created.ID))
			_, err = svc.Get(ctx, created.ID)
			assert.ErrorIs(t, err, apperr.ErrNotFound)
			assert.ErrorIs(t, svc.Delete(ctx, created.ID), apperr.ErrNotFound)
		})
	}
}

func TestService_MarkLockedIsCompareAndSet(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			svc := stays.NewService(repo, zap.NewNop())
			created, err := svc.Create(ctx, validCreate(time.Now().Add(-48*time.Hour)))
			require.NoError(t, err)

			first := time.Date(2024, 7, 3, 10, 0, 0, 0, time.UTC)
			got, err := svc.MarkLocked(ctx, created.ID, first)
			require.NoError(t, err)
			assert.True(t, got.Equal(first))

			got, err = svc.MarkLocked(ctx, created.ID, first.Add(time.Hour))
			require.NoError(t, err)
			assert.True(t, got.Equal(first), "second lock must keep the original lockedAt")

			// Editing other fields must not clear the lock.
			notes := "edited"
			updated, err := svc.Update(ctx, created.ID, stays.UpdateRequest{Notes: &notes})
			require.NoError(t, err)
			assert.True(t, updated.IsLocked)
			require.NotNil(t, updated.LockedAt)
			assert.True(t, updated.LockedAt.Equal(first))

			_, err = svc.MarkLocked(ctx, "missing", first)
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}

func TestService_LazyLockThroughPolicy(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			svc := stays.NewService(repo, zap.NewNop())
			now := time.Now().UTC()
			created, err := svc.Create(ctx, validCreate(now.Add(-25*time.Hour)))
			require.NoError(t, err)

			policy := lockpolicy.New(stays.EntityName, svc)

			var wg sync.WaitGroup
			results := make([]time.Time, 8)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, d, err := policy.Load(ctx, created.ID)
					if assert.NoError(t, err) && assert.True(t, d.Locked) {
						results[i] = *d.LockedAt
					}
				}(i)
			}
			wg.Wait()
			for _, r := range results[1:] {
				assert.True(t, r.Equal(results[0]), "all evaluators must see the same lockedAt")
			}

			stored, err := svc.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.True(t, stored.IsLocked)
		})
	}
}

func TestRepository_StaleUpdateConflicts(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			svc := stays.NewService(repo, zap.NewNop())
			created, err := svc.Create(ctx, validCreate(time.Date(2024, 7, 1, 15, 0, 0, 0, time.UTC)))
			require.NoError(t, err)

			first, err := repo.Get(ctx, created.ID)
			require.NoError(t, err)
			second, err := repo.Get(ctx, created.ID)
			require.NoError(t, err)
			prev := first.UpdatedAt

			first.Notes = "front desk"
			first.UpdatedAt = prev.Add(time.Second)
			require.NoError(t, repo.Update(ctx, first, prev))

			second.Notes = "housekeeping"
			second.UpdatedAt = prev.Add(2 * time.Second)
			assert.ErrorIs(t, repo.Update(ctx, second, prev), apperr.ErrConflict)

			got, err := repo.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, "front desk", got.Notes)

			missing := *first
			missing.ID = "missing"
			assert.ErrorIs(t, repo.Update(ctx, &missing, prev), apperr.ErrNotFound)
		})
	}
}

func TestService_SaveAdvancesVersionUnderFrozenClock(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			svc := stays.NewService(repo, zap.NewNop())
			frozen := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
			svc.SetClock(func() time.Time { return frozen })

			created, err := svc.Create(ctx, validCreate(time.Date(2024, 7, 1, 15, 0, 0, 0, time.UTC)))
			require.NoError(t, err)

			checkedIn, err := svc.CheckIn(ctx, created.ID)
			require.NoError(t, err)
			assert.True(t, checkedIn.UpdatedAt.After(created.UpdatedAt))

			checkedOut, err := svc.CheckOut(ctx, created.ID)
			require.NoError(t, err)
			assert.True(t, checkedOut.UpdatedAt.After(checkedIn.UpdatedAt))
			assert.Equal(t, stays.StatusCheckedOut, checkedOut.Status)
		})
	}
}
