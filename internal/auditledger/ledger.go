package auditledger

import (
	"context"
	"time"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// MaxPage bounds Query.Page so that the row offset cannot overflow.
const MaxPage = 1_000_000

// Ledger is the append-only, hash-chained audit log.
// MemoryLedger, PostgresLedger and SQLiteLedger implement this interface.
type Ledger interface {
	// Append chains a new entry to the current tail. Reading the tail and
	// writing the entry happen as one indivisible step. An empty actorID
	// records a system action; an empty entityID is stored as null.
	Append(ctx context.Context, actorID string, action Action, entityName, entityID string, metadata Metadata) (*Entry, error)

	// Verify walks the whole chain in creation order and reports every
	// entry whose content hash or linkage does not check out.
	Verify(ctx context.Context) (*IntegrityReport, error)

	// Query returns one page of entries matching q, newest first.
	Query(ctx context.Context, q Query) (*Page, error)

	// Len returns the number of entries in the chain.
	Len(ctx context.Context) (int, error)

	// Root returns the hash of the chain tail, or "" for an empty chain.
	Root(ctx context.Context) (string, error)
}

// IntegrityReport is the result of Verify.
type IntegrityReport struct {
	Valid        bool     `json:"valid"`
	OffendingIDs []string `json:"offending_ids"`
	Entries      int      `json:"entries"`
}

// Query filters audit history. Zero values mean "no filter".
type Query struct {
	ActorID    string
	EntityName string
	Action     Action
	From       time.Time
	To         time.Time
	Page       int
	Limit      int
}

// normalize clamps paging parameters to their allowed range.
func (q Query) normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	return q
}

func (q Query) offset() int { return (q.Page - 1) * q.Limit }

func (q Query) matches(e *Entry) bool {
	if q.ActorID != "" && deref(e.ActorID) != q.ActorID {
		return false
	}
	if q.EntityName != "" && e.EntityName != q.EntityName {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Timestamp.After(q.To) {
		return false
	}
	return true
}

// Page is one page of audit history.
type Page struct {
	Entries    []*Entry `json:"data"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	Total      int      `json:"total"`
	TotalPages int      `json:"total_pages"`
}

func newPage(q Query, entries []*Entry, total int) *Page {
	if entries == nil {
		entries = []*Entry{}
	}
	pages := 0
	if total > 0 {
		pages = (total + q.Limit - 1) / q.Limit
	}
	return &Page{Entries: entries, Page: q.Page, Limit: q.Limit, Total: total, TotalPages: pages}
}

// chainVerifier accumulates the verification result entry by entry so that
// the SQL backends can stream rows instead of loading the whole chain.
type chainVerifier struct {
	prevHash  *string
	seen      map[string]bool
	offending []string
	count     int
}

func newChainVerifier() *chainVerifier {
	return &chainVerifier{seen: make(map[string]bool)}
}

func (v *chainVerifier) check(e *Entry) {
	v.count++
	expected, err := computeHash(e, v.prevHash)
	tampered := err != nil || expected != e.Hash
	unlinked := !sameHash(e.PreviousHash, v.prevHash)
	if (tampered || unlinked) && !v.seen[e.ID] {
		v.seen[e.ID] = true
		v.offending = append(v.offending, e.ID)
	}
	stored := e.Hash
	v.prevHash = &stored
}

func (v *chainVerifier) report() *IntegrityReport {
	offending := v.offending
	if offending == nil {
		offending = []string{}
	}
	return &IntegrityReport{Valid: len(offending) == 0, OffendingIDs: offending, Entries: v.count}
}
