package petitions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stayward/stayward/internal/apperr"
	"github.com/stayward/stayward/internal/lockpolicy"
	"go.uber.org/zap"
)

// Option configures a Workflow.
type Option func(*Workflow)

// WithApprovalTTL limits how long an approval keeps authorising edits after
// it was reviewed. Zero (the default) means approvals never expire.
func WithApprovalTTL(d time.Duration) Option {
	return func(w *Workflow) { w.approvalTTL = d }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// Workflow runs the petition state machine against the records governed by
// one lock policy.
type Workflow struct {
	store       Store
	policy      *lockpolicy.Policy
	logger      *zap.Logger
	now         func() time.Time
	approvalTTL time.Duration
}

// NewWorkflow creates a Workflow.
func NewWorkflow(store Store, policy *lockpolicy.Policy, logger *zap.Logger, opts ...Option) *Workflow {
	w := &Workflow{store: store, policy: policy, logger: logger, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Submit files a PENDING petition against a locked record.
func (w *Workflow) Submit(ctx context.Context, recordID, requesterID, reason string) (*Petition, error) {
	recordID = strings.TrimSpace(recordID)
	reason = strings.TrimSpace(reason)
	switch {
	case recordID == "":
		return nil, apperr.Validation("record_id is required")
	case requesterID == "":
		return nil, apperr.Validation("requester is required")
	case reason == "":
		return nil, apperr.Validation("reason is required")
	case len(reason) > MaxReasonLen:
		return nil, apperr.Validation("reason must be at most %d characters", MaxReasonLen)
	}

	_, decision, err := w.policy.Load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !decision.Locked {
		return nil, fmt.Errorf("%w: %s; no petition needed", apperr.ErrNotLocked, decision.Reason)
	}

	p := &Petition{
		ID:          uuid.NewString(),
		RecordID:    recordID,
		RequesterID: requesterID,
		Reason:      reason,
		Status:      StatusPending,
		CreatedAt:   w.now().UTC(),
	}
	if err := w.store.CreatePending(ctx, p); err != nil {
		return nil, err
	}
	w.logger.Info("petition submitted",
		zap.String("petition_id", p.ID),
		zap.String("record_id", recordID),
		zap.String("requester_id", requesterID),
	)
	return p, nil
}

// Review moves a PENDING petition to APPROVED or REJECTED. The reason is
// never modified.
func (w *Workflow) Review(ctx context.Context, petitionID string, decision Status, reviewerID, notes string) (*Petition, error) {
	if !decision.Terminal() {
		return nil, apperr.Validation("decision must be %s or %s", StatusApproved, StatusRejected)
	}
	if petitionID == "" {
		return nil, apperr.Validation("petition id is required")
	}
	if reviewerID == "" {
		return nil, apperr.Validation("reviewer is required")
	}
	if len(notes) > MaxReasonLen {
		return nil, apperr.Validation("notes must be at most %d characters", MaxReasonLen)
	}

	var notesPtr *string
	if n := strings.TrimSpace(notes); n != "" {
		notesPtr = &n
	}
	p, err := w.store.Review(ctx, petitionID, Decision{
		Status:     decision,
		ReviewerID: reviewerID,
		Notes:      notesPtr,
		At:         w.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	w.logger.Info("petition reviewed",
		zap.String("petition_id", p.ID),
		zap.String("record_id", p.RecordID),
		zap.String("status", string(p.Status)),
		zap.String("reviewer_id", reviewerID),
	)
	return p, nil
}

// HasApproved reports whether the record has an approved petition that still
// authorises edits. Approvals are not consumed by use.
func (w *Workflow) HasApproved(ctx context.Context, recordID string) (bool, error) {
	at, err := w.store.LatestApproval(ctx, recordID)
	if err != nil {
		return false, err
	}
	if at == nil {
		return false, nil
	}
	if w.approvalTTL > 0 && w.now().Sub(*at) > w.approvalTTL {
		return false, nil
	}
	return true, nil
}

// Get returns a petition by ID.
func (w *Workflow) Get(ctx context.Context, id string) (*Petition, error) {
	return w.store.Get(ctx, id)
}

// List returns a page of petitions, newest first.
func (w *Workflow) List(ctx context.Context, q ListQuery) (*ListPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", q.Status)
	}
	q = q.normalize()
	items, total, err := w.store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Petition{}
	}
	pages := 0
	if total > 0 {
		pages = (total + q.Limit - 1) / q.Limit
	}
	return &ListPage{Petitions: items, Page: q.Page, Limit: q.Limit, Total: total, TotalPages: pages}, nil
}
