// Package stays persists stays, the records governed by the 24-hour lock.
package stays

import (
	"time"

	"github.com/stayward/stayward/internal/lockpolicy"
)

// EntityName is the audit entity name of a stay.
const EntityName = "Stay"

// Status is the lifecycle status of a stay.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusCheckedOut Status = "CHECKED_OUT"
	StatusCancelled  Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCheckedIn, StatusCheckedOut, StatusCancelled:
		return true
	}
	return false
}

// Stay is a guest booking for an apartment.
type Stay struct {
	ID                string     `json:"id"`
	ApartmentID       string     `json:"apartment_id"`
	GuestName         string     `json:"guest_name"`
	Notes             string     `json:"notes"`
	Status            Status     `json:"status"`
	ScheduledCheckIn  time.Time  `json:"scheduled_check_in"`
	ScheduledCheckOut time.Time  `json:"scheduled_check_out"`
	ActualCheckIn     *time.Time `json:"actual_check_in,omitempty"`
	ActualCheckOut    *time.Time `json:"actual_check_out,omitempty"`
	IsLocked          bool       `json:"is_locked"`
	LockedAt          *time.Time `json:"locked_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// LockRecord returns the lock-relevant view of the stay. The scheduled
// check-in is the instant the lock threshold is measured from.
func (s *Stay) LockRecord() *lockpolicy.Record {
	return &lockpolicy.Record{
		ID:             s.ID,
		ScheduledStart: s.ScheduledCheckIn,
		IsLocked:       s.IsLocked,
		LockedAt:       s.LockedAt,
	}
}

// CreateRequest holds the fields accepted when creating a stay.
type CreateRequest struct {
	ApartmentID       string    `json:"apartment_id"`
	GuestName         string    `json:"guest_name"`
	Notes             string    `json:"notes"`
	ScheduledCheckIn  time.Time `json:"scheduled_check_in"`
	ScheduledCheckOut time.Time `json:"scheduled_check_out"`
}

// UpdateRequest holds the editable fields of a stay. Nil fields are left
// unchanged. The lock fields are not editable.
type UpdateRequest struct {
	GuestName         *string    `json:"guest_name,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	Status            *Status    `json:"status,omitempty"`
	ScheduledCheckIn  *time.Time `json:"scheduled_check_in,omitempty"`
	ScheduledCheckOut *time.Time `json:"scheduled_check_out,omitempty"`
	ActualCheckIn     *time.Time `json:"actual_check_in,omitempty"`
	ActualCheckOut    *time.Time `json:"actual_check_out,omitempty"`
}

// Empty reports whether the request changes nothing.
func (r UpdateRequest) Empty() bool {
	return r.GuestName == nil && r.Notes == nil && r.Status == nil &&
		r.ScheduledCheckIn == nil && r.ScheduledCheckOut == nil &&
		r.ActualCheckIn == nil && r.ActualCheckOut == nil
}

// Changes lists the JSON names of the fields the request sets, for audit
// metadata.
func (r UpdateRequest) Changes() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(r.GuestName != nil, "guest_name")
	add(r.Notes != nil, "notes")
	add(r.Status != nil, "status")
	add(r.ScheduledCheckIn != nil, "scheduled_check_in")
	add(r.ScheduledCheckOut != nil, "scheduled_check_out")
	add(r.ActualCheckIn != nil, "actual_check_in")
	add(r.ActualCheckOut != nil, "actual_check_out")
	return out
}

func (r UpdateRequest) apply(s *Stay) {
	if r.GuestName != nil {
		s.GuestName = *r.GuestName
	}
	if r.Notes != nil {
		s.Notes = *r.Notes
	}
	if r.Status != nil {
		s.Status = *r.Status
	}
	if r.ScheduledCheckIn != nil {
		s.ScheduledCheckIn = r.ScheduledCheckIn.UTC()
	}
	if r.ScheduledCheckOut != nil {
		s.ScheduledCheckOut = r.ScheduledCheckOut.UTC()
	}
	if r.ActualCheckIn != nil {
		t := r.ActualCheckIn.UTC()
		s.ActualCheckIn = &t
	}
	if r.ActualCheckOut != nil {
		t := r.ActualCheckOut.UTC()
		s.ActualCheckOut = &t
	}
}
