package petitions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stayward/stayward/internal/apperr"
)

// Decision is the outcome written by a review.
type Decision struct {
	Status     Status
	ReviewerID string
	Notes      *string
	At         time.Time
}

// Store persists petitions. Implementations must make CreatePending and
// Review atomic with their preconditions.
type Store interface {
	// CreatePending inserts p unless its record already has a PENDING
	// petition, in which case it returns apperr.ErrDuplicatePending.
	CreatePending(ctx context.Context, p *Petition) error

	Get(ctx context.Context, id string) (*Petition, error)

	// Review applies d only if the petition is still PENDING. It returns
	// apperr.ErrNotFound or apperr.ErrAlreadyReviewed otherwise.
	Review(ctx context.Context, id string, d Decision) (*Petition, error)

	// LatestApproval returns the review time of the most recent APPROVED
	// petition for the record, or nil if there is none.
	LatestApproval(ctx context.Context, recordID string) (*time.Time, error)

	List(ctx context.Context, q ListQuery) ([]*Petition, int, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	petitions map[string]*Petition
	order     []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{petitions: make(map[string]*Petition)}
}

// CreatePending implements Store.
func (s *MemoryStore) CreatePending(_ context.Context, p *Petition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.petitions {
		if existing.RecordID == p.RecordID && existing.Status == StatusPending {
			return apperr.ErrDuplicatePending
		}
	}
	s.petitions[p.ID] = clonePetition(p)
	s.order = append(s.order, p.ID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Petition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.petitions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return clonePetition(p), nil
}

// Review implements Store.
func (s *MemoryStore) Review(_ context.Context, id string, d Decision) (*Petition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.petitions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if p.Status.Terminal() {
		return nil, apperr.ErrAlreadyReviewed
	}
	at := d.At.UTC()
	reviewer := d.ReviewerID
	p.Status = d.Status
	p.ReviewerID = &reviewer
	p.ReviewerNotes = d.Notes
	p.ReviewedAt = &at
	return clonePetition(p), nil
}

// LatestApproval implements Store.
func (s *MemoryStore) LatestApproval(_ context.Context, recordID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *time.Time
	for _, p := range s.petitions {
		if p.RecordID != recordID || p.Status != StatusApproved || p.ReviewedAt == nil {
			continue
		}
		if latest == nil || p.ReviewedAt.After(*latest) {
			t := *p.ReviewedAt
			latest = &t
		}
	}
	return latest, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, q ListQuery) ([]*Petition, int, error) {
	q = q.normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Petition
	for i := len(s.order) - 1; i >= 0; i-- {
		if p := s.petitions[s.order[i]]; q.matches(p) {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	start := min(q.offset(), total)
	end := min(start+q.Limit, total)
	out := make([]*Petition, 0, end-start)
	for _, p := range matched[start:end] {
		out = append(out, clonePetition(p))
	}
	return out, total, nil
}
