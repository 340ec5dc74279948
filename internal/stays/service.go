package stays

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stayward/stayward/internal/apperr"
	"github.com/stayward/stayward/internal/lockpolicy"
	"go.uber.org/zap"
)

const maxNotesLen = 4000

// Service implements stay operations and serves as the lock policy's record
// store. Lock enforcement and auditing happen in the governor around these
// calls; Service itself never checks the lock.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// SetClock replaces the wall clock used for timestamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create validates req and stores a new scheduled stay.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Stay, error) {
	req.ApartmentID = strings.TrimSpace(req.ApartmentID)
	req.GuestName = strings.TrimSpace(req.GuestName)
	switch {
	case req.ApartmentID == "":
		return nil, apperr.Validation("apartment_id is required")
	case req.GuestName == "":
		return nil, apperr.Validation("guest_name is required")
	case req.ScheduledCheckIn.IsZero() || req.ScheduledCheckOut.IsZero():
		return nil, apperr.Validation("scheduled_check_in and scheduled_check_out are required")
	case len(req.Notes) > maxNotesLen:
		return nil, apperr.Validation("notes must be at most %d characters", maxNotesLen)
	}
	if !req.ScheduledCheckOut.After(req.ScheduledCheckIn) {
		return nil, apperr.Validation("scheduled_check_out must be after scheduled_check_in")
	}

	now := s.now().UTC()
	stay := &Stay{
		ID:                uuid.NewString(),
		ApartmentID:       req.ApartmentID,
		GuestName:         req.GuestName,
		Notes:             req.Notes,
		Status:            StatusScheduled,
		ScheduledCheckIn:  req.ScheduledCheckIn.UTC(),
		ScheduledCheckOut: req.ScheduledCheckOut.UTC(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, stay); err != nil {
		return nil, err
	}
	s.logger.Info("stay created", zap.String("stay_id", stay.ID), zap.String("apartment_id", stay.ApartmentID))
	return stay, nil
}

// Get returns a stay by ID.
func (s *Service) Get(ctx context.Context, id string) (*Stay, error) {
	return s.repo.Get(ctx, id)
}

// Update applies req to the stay.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Stay, error) {
	if req.Empty() {
		return nil, apperr.Validation("no fields to update")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", *req.Status)
	}
	if req.GuestName != nil && strings.TrimSpace(*req.GuestName) == "" {
		return nil, apperr.Validation("guest_name cannot be empty")
	}
	if req.Notes != nil && len(*req.Notes) > maxNotesLen {
		return nil, apperr.Validation("notes must be at most %d characters", maxNotesLen)
	}

	stay, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(stay)
	if !stay.ScheduledCheckOut.After(stay.ScheduledCheckIn) {
		return nil, apperr.Validation("scheduled_check_out must be after scheduled_check_in")
	}
	return s.save(ctx, stay)
}

// CheckIn records the actual check-in time and marks the stay checked in.
func (s *Service) CheckIn(ctx context.Context, id string) (*Stay, error) {
	stay, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	stay.ActualCheckIn = &now
	stay.Status = StatusCheckedIn
	return s.save(ctx, stay)
}

// CheckOut records the actual check-out time and marks the stay checked out.
func (s *Service) CheckOut(ctx context.Context, id string) (*Stay, error) {
	stay, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	stay.ActualCheckOut = &now
	stay.Status = StatusCheckedOut
	return s.save(ctx, stay)
}

// Delete removes a stay.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("stay deleted", zap.String("stay_id", id))
	return nil
}

// GetRecord implements lockpolicy.Store.
func (s *Service) GetRecord(ctx context.Context, id string) (*lockpolicy.Record, error) {
	stay, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return stay.LockRecord(), nil
}

// MarkLocked implements lockpolicy.Store.
func (s *Service) MarkLocked(ctx context.Context, id string, at time.Time) (time.Time, error) {
	lockedAt, err := s.repo.MarkLocked(ctx, id, at)
	if err != nil {
		return time.Time{}, err
	}
	s.logger.Info("stay locked", zap.String("stay_id", id), zap.Time("locked_at", lockedAt))
	return lockedAt, nil
}

// save writes stay back only if nobody else saved it since it was read.
// updated_at serves as the version and always moves forward.
func (s *Service) save(ctx context.Context, stay *Stay) (*Stay, error) {
	prev := stay.UpdatedAt
	next := s.now().UTC().Truncate(time.Microsecond)
	if !next.After(prev) {
		next = prev.Add(time.Microsecond)
	}
	stay.UpdatedAt = next
	if err := s.repo.Update(ctx, stay, prev); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			s.logger.Warn("stay update conflict", zap.String("stay_id", stay.ID))
		}
		return nil, err
	}
	return s.repo.Get(ctx, stay.ID)
}
