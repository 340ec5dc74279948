package auditledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stayward/stayward/internal/apperr"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is useful for tests and single-process development setups that do not
// need the chain to survive a restart.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
}

// New creates an empty MemoryLedger. The first appended entry has a nil
// PreviousHash.
func New() *MemoryLedger {
	return &MemoryLedger{}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, actorID string, action Action, entityName, entityID string, metadata Metadata) (*Entry, error) {
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

	l.mu.Lock()
	defer l.mu.Unlock()

	var prev *string
	if n := len(l.entries); n > 0 {
		h := l.entries[n-1].Hash
		prev = &h
	}

	entry := &Entry{
		ID:           uuid.NewString(),
		Seq:          int64(len(l.entries) + 1),
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
	l.entries = append(l.entries, entry)
	return cloneEntry(entry), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) (*IntegrityReport, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v := newChainVerifier()
	for _, e := range l.entries {
		v.check(e)
	}
	return v.report(), nil
}

// Query implements Ledger.
func (l *MemoryLedger) Query(_ context.Context, q Query) (*Page, error) {
	q = q.normalize()

	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*Entry
	for _, e := range l.entries {
		if q.matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Seq > matched[j].Seq })

	total := len(matched)
	start := min(q.offset(), total)
	end := min(start+q.Limit, total)

	out := make([]*Entry, 0, end-start)
	for _, e := range matched[start:end] {
		out = append(out, cloneEntry(e))
	}
	return newPage(q, out, total), nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return "", nil
	}
	return l.entries[len(l.entries)-1].Hash, nil
}

// cloneEntry copies e so callers cannot reach into the stored chain.
func cloneEntry(e *Entry) *Entry {
	c := *e
	c.ActorID = optional(deref(e.ActorID))
	c.EntityID = optional(deref(e.EntityID))
	c.PreviousHash = optional(deref(e.PreviousHash))
	if e.Metadata != nil {
		c.Metadata = make(Metadata, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
