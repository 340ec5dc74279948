// Package apperr defines the error taxonomy shared by the ledger, the lock
// policy, the petition workflow and the HTTP adapters.
//
// Errors are plain sentinels wrapped with fmt.Errorf("...: %w"); callers test
// them with errors.Is. LockedError carries the details needed to explain a
// rejected mutation and unwraps to ErrLocked.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for unknown records or petitions.
	ErrNotFound = errors.New("not found")

	// ErrLocked is returned when a mutation is blocked by the record lock.
	ErrLocked = errors.New("record is locked")

	// ErrNotLocked is returned when a petition targets an unlocked record.
	ErrNotLocked = errors.New("record is not locked")

	// ErrDuplicatePending is returned when a record already has a pending petition.
	ErrDuplicatePending = errors.New("a pending petition already exists for this record")

	// ErrAlreadyReviewed is returned when reviewing a petition that is no longer pending.
	ErrAlreadyReviewed = errors.New("petition has already been reviewed")

	// ErrConflict is returned when a record changed between read and write.
	ErrConflict = errors.New("record was modified concurrently")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrPersistence is returned when the storage layer fails.
	ErrPersistence = errors.New("persistence failure")
)

// LockedError explains why a mutation on a locked record was rejected.
type LockedError struct {
	Entity     string
	RecordID   string
	LockedAt   *time.Time
	Privileged bool
}

func (e *LockedError) Error() string {
	since := "the lock threshold passed"
	if e.LockedAt != nil {
		since = e.LockedAt.UTC().Format(time.RFC3339)
	}
	entity := e.Entity
	if entity == "" {
		entity = "record"
	}
	if !e.Privileged {
		return fmt.Sprintf("%s %s is locked since %s; only administrators can modify locked records through approved petitions",
			entity, e.RecordID, since)
	}
	return fmt.Sprintf("%s %s is locked since %s; an approved petition is required to modify it",
		entity, e.RecordID, since)
}

// Unwrap lets errors.Is(err, ErrLocked) match.
func (e *LockedError) Unwrap() error { return ErrLocked }

// Validation wraps a human-readable message in ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage error in ErrPersistence, keeping the cause in
// the chain so both errors.Is(err, ErrPersistence) and driver checks work.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// IsDomain reports whether err belongs to the taxonomy above (as opposed to
// an unexpected failure).
func IsDomain(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrLocked, ErrNotLocked, ErrDuplicatePending,
		ErrAlreadyReviewed, ErrConflict, ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
