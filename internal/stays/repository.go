package stays

import (
	"context"
	"sync"
	"time"

	"github.com/stayward/stayward/internal/apperr"
)

// Repository persists stays.
// MemoryRepository, PostgresRepository and SQLiteRepository implement it.
type Repository interface {
	Create(ctx context.Context, s *Stay) error
	Get(ctx context.Context, id string) (*Stay, error)

	// Update writes the editable fields of s if the stored updated_at still
	// equals prev, and returns apperr.ErrConflict otherwise. The lock fields
	// are left alone.
	Update(ctx context.Context, s *Stay, prev time.Time) error
	Delete(ctx context.Context, id string) error

	// MarkLocked atomically sets is_locked where it is still false and
	// returns the stored locked_at.
	MarkLocked(ctx context.Context, id string, at time.Time) (time.Time, error)
}

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	stays map[string]*Stay
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{stays: make(map[string]*Stay)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, s *Stay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stays[s.ID]; ok {
		return apperr.Validation("stay %s already exists", s.ID)
	}
	r.stays[s.ID] = cloneStay(s)
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Stay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stays[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneStay(s), nil
}

// Update implements Repository.
func (r *MemoryRepository) Update(_ context.Context, s *Stay, prev time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.stays[s.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	if !cur.UpdatedAt.Equal(prev) {
		return apperr.ErrConflict
	}
	next := cloneStay(s)
	next.IsLocked = cur.IsLocked
	next.LockedAt = cur.LockedAt
	next.CreatedAt = cur.CreatedAt
	r.stays[s.ID] = next
	return nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stays[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(r.stays, id)
	return nil
}

// MarkLocked implements Repository.
func (r *MemoryRepository) MarkLocked(_ context.Context, id string, at time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stays[id]
	if !ok {
		return time.Time{}, apperr.ErrNotFound
	}
	if !s.IsLocked || s.LockedAt == nil {
		at = at.UTC()
		s.IsLocked = true
		s.LockedAt = &at
		s.UpdatedAt = at
	}
	return *s.LockedAt, nil
}

func cloneStay(s *Stay) *Stay {
	c := *s
	c.ActualCheckIn = cloneTime(s.ActualCheckIn)
	c.ActualCheckOut = cloneTime(s.ActualCheckOut)
	c.LockedAt = cloneTime(s.LockedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
