package petitions_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/stayward/stayward/internal/apperr"
	"github.com/stayward/stayward/internal/lockpolicy"
	"github.com/stayward/stayward/internal/petitions"
	"github.com/stayward/stayward/internal/stays"
)

var ctx = context.Background()

type fixture struct {
	stays    *stays.Service
	workflow *petitions.Workflow
	locked   string
	unlocked string
}

func stores(t *testing.T) map[string]petitions.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	sqliteStore, err := petitions.NewSQLiteStore(ctx, db)
	require.NoError(t, err)
	return map[string]petitions.Store{
		"memory": petitions.NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func newFixture(t *testing.T, store petitions.Store, opts ...petitions.Option) *fixture {
	t.Helper()
	svc := stays.NewService(stays.NewMemoryRepository(), zap.NewNop())
	now := time.Now().UTC()

	mk := func(start time.Time) string {
		s, err := svc.Create(ctx, stays.CreateRequest{
			ApartmentID:       "apt-1",
			GuestName:         "Guest",
			ScheduledCheckIn:  start,
			ScheduledCheckOut: start.Add(48 * time.Hour),
		})
		require.NoError(t, err)
		return s.ID
	}

	policy := lockpolicy.New(stays.EntityName, svc)
	return &fixture{
		stays:    svc,
		workflow: petitions.NewWorkflow(store, policy, zap.NewNop(), opts...),
		locked:   mk(now.Add(-25 * time.Hour)),
		unlocked: mk(now.Add(-time.Hour)),
	}
}

func TestSubmit_requiresLockedRecord(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store)

			_, err := f.workflow.Submit(ctx, f.unlocked, "user-1", "fix the guest name")
			assert.ErrorIs(t, err, apperr.ErrNotLocked)

			_, err = f.workflow.Submit(ctx, "missing", "user-1", "fix the guest name")
			assert.ErrorIs(t, err, apperr.ErrNotFound)

			p, err := f.workflow.Submit(ctx, f.locked, "user-1", "fix the guest name")
			require.NoError(t, err)
			assert.Equal(t, petitions.StatusPending, p.Status)
			assert.Nil(t, p.ReviewedAt)

			// Submitting lazily locked the stay.
			s, err := f.stays.Get(ctx, f.locked)
			require.NoError(t, err)
			assert.True(t, s.IsLocked)
		})
	}
}

func TestSubmit_validation(t *testing.T) {
	f := newFixture(t, petitions.NewMemoryStore())
	long := make([]byte, petitions.MaxReasonLen+1)
	for i := range long {
		long[i] = 'x'
	}

	cases := []struct{ record, requester, reason string }{
		{"", "u", "r"},
		{f.locked, "", "r"},
		{f.locked, "u", "   "},
		{f.locked, "u", string(long)},
	}
	for _, c := range cases {
		_, err := f.workflow.Submit(ctx, c.record, c.requester, c.reason)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
}

func TestSubmit_duplicatePendingThenResubmitAfterReview(t *testing.T) {
	for _, decision := range []petitions.Status{petitions.StatusApproved, petitions.StatusRejected} {
		for name, store := range stores(t) {
			t.Run(name+"/"+string(decision), func(t *testing.T) {
				f := newFixture(t, store)

				first, err := f.workflow.Submit(ctx, f.locked, "user-1", "first")
				require.NoError(t, err)

				_, err = f.workflow.Submit(ctx, f.locked, "user-2", "second")
				require.ErrorIs(t, err, apperr.ErrDuplicatePending)

				_, err = f.workflow.Review(ctx, first.ID, decision, "admin-1", "")
				require.NoError(t, err)

				again, err := f.workflow.Submit(ctx, f.locked, "user-2", "second")
				require.NoError(t, err)
				assert.NotEqual(t, first.ID, again.ID)
			})
		}
	}
}

func TestSubmit_concurrentSubmissionsYieldOnePending(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store)

			const n = 10
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				ok, dupes int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.workflow.Submit(ctx, f.locked, "user-1", "race")
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case errors.Is(err, apperr.ErrDuplicatePending):
						dupes++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, ok)
			assert.Equal(t, n-1, dupes)
		})
	}
}

func TestReview_terminalStatesAndReasonImmutable(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store)
			p, err := f.workflow.Submit(ctx, f.locked, "user-1", "original reason")
			require.NoError(t, err)

			reviewed, err := f.workflow.Review(ctx, p.ID, petitions.StatusApproved, "admin-1", "ok for one edit")
			require.NoError(t, err)
			assert.Equal(t, petitions.StatusApproved, reviewed.Status)
			require.NotNil(t, reviewed.ReviewerID)
			assert.Equal(t, "admin-1", *reviewed.ReviewerID)
			require.NotNil(t, reviewed.ReviewerNotes)
			assert.Equal(t, "ok for one edit", *reviewed.ReviewerNotes)
			assert.NotNil(t, reviewed.ReviewedAt)
			assert.Equal(t, "original reason", reviewed.Reason)

			_, err = f.workflow.Review(ctx, p.ID, petitions.StatusRejected, "admin-2", "changed my mind")
			assert.ErrorIs(t, err, apperr.ErrAlreadyReviewed)

			got, err := f.workflow.Get(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, petitions.StatusApproved, got.Status)
			assert.Equal(t, "original reason", got.Reason)
			assert.Equal(t, "admin-1", *got.ReviewerID)

			_, err = f.workflow.Review(ctx, "missing", petitions.StatusApproved, "admin-1", "")
			assert.ErrorIs(t, err, apperr.ErrNotFound)
		})
	}
}

func TestReview_rejectsInvalidDecision(t *testing.T) {
	f := newFixture(t, petitions.NewMemoryStore())
	p, err := f.workflow.Submit(ctx, f.locked, "user-1", "reason")
	require.NoError(t, err)

	_, err = f.workflow.Review(ctx, p.ID, petitions.StatusPending, "admin-1", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.workflow.Review(ctx, p.ID, petitions.StatusApproved, "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestHasApproved(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store)

			ok, err := f.workflow.HasApproved(ctx, f.locked)
			require.NoError(t, err)
			assert.False(t, ok)

			p, err := f.workflow.Submit(ctx, f.locked, "user-1", "reason")
			require.NoError(t, err)
			ok, _ = f.workflow.HasApproved(ctx, f.locked)
			assert.False(t, ok, "pending petitions do not authorise edits")

			_, err = f.workflow.Review(ctx, p.ID, petitions.StatusRejected, "admin-1", "")
			require.NoError(t, err)
			ok, _ = f.workflow.HasApproved(ctx, f.locked)
			assert.False(t, ok, "rejected petitions do not authorise edits")

			p2, err := f.workflow.Submit(ctx, f.locked, "user-1", "reason again")
			require.NoError(t, err)
			_, err = f.workflow.Review(ctx, p2.ID, petitions.StatusApproved, "admin-1", "")
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				ok, err = f.workflow.HasApproved(ctx, f.locked)
				require.NoError(t, err)
				assert.True(t, ok, "approval is not consumed by checking it")
			}
		})
	}
}

func TestHasApproved_approvalTTL(t *testing.T) {
	now := time.Now().UTC()
	clock := now
	f := newFixture(t, petitions.NewMemoryStore(),
		petitions.WithApprovalTTL(time.Hour),
		petitions.WithClock(func() time.Time { return clock }),
	)

	p, err := f.workflow.Submit(ctx, f.locked, "user-1", "reason")
	require.NoError(t, err)
	_, err = f.workflow.Review(ctx, p.ID, petitions.StatusApproved, "admin-1", "")
	require.NoError(t, err)

	clock = now.Add(59 * time.Minute)
	ok, err := f.workflow.HasApproved(ctx, f.locked)
	require.NoError(t, err)
	assert.True(t, ok)

	clock = now.Add(61 * time.Minute)
	ok, err = f.workflow.HasApproved(ctx, f.locked)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList_filtersAndPaging(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store)
			clock := time.Now().UTC()
			wf := petitions.NewWorkflow(store,
				lockpolicy.New(stays.EntityName, f.stays),
				zap.NewNop(),
				petitions.WithClock(func() time.Time { clock = clock.Add(time.Second); return clock }),
			)

			var last *petitions.Petition
			for i := 0; i < 3; i++ {
				p, err := wf.Submit(ctx, f.locked, "user-1", "reason")
				require.NoError(t, err)
				_, err = wf.Review(ctx, p.ID, petitions.StatusRejected, "admin-1", "")
				require.NoError(t, err)
				last = p
			}
			pending, err := wf.Submit(ctx, f.locked, "user-1", "reason")
			require.NoError(t, err)

			page, err := wf.List(ctx, petitions.ListQuery{Status: petitions.StatusPending})
			require.NoError(t, err)
			require.Len(t, page.Petitions, 1)
			assert.Equal(t, pending.ID, page.Petitions[0].ID)

			page, err = wf.List(ctx, petitions.ListQuery{Status: petitions.StatusRejected, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, 3, page.Total)
			assert.Equal(t, 2, page.TotalPages)
			require.Len(t, page.Petitions, 2)
			assert.Equal(t, last.ID, page.Petitions[0].ID, "newest first")

			page, err = wf.List(ctx, petitions.ListQuery{RecordID: f.unlocked})
			require.NoError(t, err)
			assert.Equal(t, 0, page.Total)
			assert.NotNil(t, page.Petitions)

			_, err = wf.List(ctx, petitions.ListQuery{Status: "OPEN"})
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestList_hugePageIsClamped(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, store)
			_, err := f.workflow.Submit(ctx, f.locked, "user-1", "reason")
			require.NoError(t, err)

			page, err := f.workflow.List(ctx, petitions.ListQuery{Page: 92233720368547760, Limit: 100})
			require.NoError(t, err)
			assert.Equal(t, petitions.MaxPage, page.Page)
			assert.Equal(t, 1, page.Total)
			assert.Empty(t, page.Petitions)
		})
	}
}
