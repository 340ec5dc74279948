// Package lockpolicy decides whether a governed record is locked against
// further modification.
//
// A record locks once more than the threshold has elapsed since its scheduled
// start. The transition is observed lazily: Evaluate performs it the first
// time it notices the record is due, through the store's compare-and-set.
package lockpolicy

import (
	"context"
	"fmt"
	"time"

	"github.com/stayward/stayward/internal/apperr"
)

// DefaultThreshold is the lock threshold used when none is configured.
const DefaultThreshold = 24 * time.Hour

// Record is the lock-relevant view of a governed record.
type Record struct {
	ID             string
	ScheduledStart time.Time
	IsLocked       bool
	LockedAt       *time.Time
}

// Store is the persistence collaborator that owns governed records.
type Store interface {
	// GetRecord returns the lock fields of the record, or apperr.ErrNotFound.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// MarkLocked sets the lock flag if it is not already set and returns the
	// lockedAt value that is stored afterwards. It must be a single atomic
	// conditional update so that concurrent callers agree on one lockedAt.
	MarkLocked(ctx context.Context, id string, at time.Time) (time.Time, error)
}

// Decision is the result of Evaluate.
type Decision struct {
	Locked   bool       `json:"locked"`
	Reason   string     `json:"reason"`
	LockedAt *time.Time `json:"locked_at,omitempty"`
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// WithThreshold overrides DefaultThreshold. Non-positive values are ignored.
func WithThreshold(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.threshold = d
		}
	}
}

// Policy evaluates and enforces the lock rule for one kind of governed record.
type Policy struct {
	entity    string
	store     Store
	threshold time.Duration
	now       func() time.Time
}

// New creates a Policy for records of the named entity kind held in store.
func New(entity string, store Store, opts ...Option) *Policy {
	p := &Policy{
		entity:    entity,
		store:     store,
		threshold: DefaultThreshold,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Entity returns the entity name the policy governs.
func (p *Policy) Entity() string { return p.entity }

// Threshold returns the configured lock threshold.
func (p *Policy) Threshold() time.Duration { return p.threshold }

// Due reports whether the record is past its lock deadline at the given time.
func (p *Policy) Due(r *Record, at time.Time) bool {
	return at.Sub(r.ScheduledStart) > p.threshold
}

// Evaluate reports whether r is locked. When r is due but not yet flagged it
// persists the transition and updates r in place, so callers must treat it as
// potentially mutating.
func (p *Policy) Evaluate(ctx context.Context, r *Record) (Decision, error) {
	if r.IsLocked {
		return Decision{Locked: true, Reason: p.lockedReason(r), LockedAt: r.LockedAt}, nil
	}
	now := p.now().UTC()
	if !p.Due(r, now) {
		return Decision{
			Locked: false,
			Reason: fmt.Sprintf("%s %s locks at %s", p.entity, r.ID, r.ScheduledStart.Add(p.threshold).UTC().Format(time.RFC3339)),
		}, nil
	}

	lockedAt, err := p.store.MarkLocked(ctx, r.ID, now)
	if err != nil {
		return Decision{}, err
	}
	r.IsLocked = true
	r.LockedAt = &lockedAt
	return Decision{Locked: true, Reason: p.lockedReason(r), LockedAt: r.LockedAt}, nil
}

// Load fetches a record from the store and evaluates it.
func (p *Policy) Load(ctx context.Context, id string) (*Record, Decision, error) {
	r, err := p.store.GetRecord(ctx, id)
	if err != nil {
		return nil, Decision{}, err
	}
	d, err := p.Evaluate(ctx, r)
	if err != nil {
		return nil, Decision{}, err
	}
	return r, d, nil
}

// Enforce allows a mutation of r unless it is locked. A locked record may only
// be changed by a privileged requester holding an approved petition.
func (p *Policy) Enforce(r *Record, privileged, hasApprovedPetition bool) error {
	if !r.IsLocked {
		return nil
	}
	if privileged && hasApprovedPetition {
		return nil
	}
	return &apperr.LockedError{
		Entity:     p.entity,
		RecordID:   r.ID,
		LockedAt:   r.LockedAt,
		Privileged: privileged,
	}
}

func (p *Policy) lockedReason(r *Record) string {
	if r.LockedAt == nil {
		return fmt.Sprintf("%s %s is locked", p.entity, r.ID)
	}
	return fmt.Sprintf("%s %s is locked since %s", p.entity, r.ID, r.LockedAt.UTC().Format(time.RFC3339))
}
