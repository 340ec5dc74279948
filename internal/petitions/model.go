// Package petitions implements the unlock-request workflow for locked records.
//
// A petition moves from PENDING to exactly one of APPROVED or REJECTED and
// never leaves a terminal state. A record has at most one PENDING petition at
// any time, and a petition's reason is fixed once it is submitted.
package petitions

import "time"

// EntityName is the audit entity name of a petition.
const EntityName = "Petition"

// MaxReasonLen bounds the length of a petition reason.
const MaxReasonLen = 2000

// MaxPage bounds ListQuery.Page so that the row offset cannot overflow.
const MaxPage = 1_000_000

// Status is the state of a petition.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Petition is a request to unlock a governed record for further editing.
type Petition struct {
	ID            string     `json:"id"`
	RecordID      string     `json:"record_id"`
	RequesterID   string     `json:"requester_id"`
	Reason        string     `json:"reason"`
	Status        Status     `json:"status"`
	ReviewerNotes *string    `json:"reviewer_notes,omitempty"`
	ReviewerID    *string    `json:"reviewer_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
}

// ListQuery filters petition listings. Zero values mean "no filter".
type ListQuery struct {
	Status   Status
	RecordID string
	Page     int
	Limit    int
}

func (q ListQuery) normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return q
}

func (q ListQuery) offset() int { return (q.Page - 1) * q.Limit }

func (q ListQuery) matches(p *Petition) bool {
	if q.Status != "" && p.Status != q.Status {
		return false
	}
	if q.RecordID != "" && p.RecordID != q.RecordID {
		return false
	}
	return true
}

// ListPage is one page of petitions, newest first.
type ListPage struct {
	Petitions  []*Petition `json:"data"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int         `json:"total"`
	TotalPages int         `json:"total_pages"`
}

func clonePetition(p *Petition) *Petition {
	c := *p
	if p.ReviewerNotes != nil {
		n := *p.ReviewerNotes
		c.ReviewerNotes = &n
	}
	if p.ReviewerID != nil {
		r := *p.ReviewerID
		c.ReviewerID = &r
	}
	if p.ReviewedAt != nil {
		t := *p.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}
