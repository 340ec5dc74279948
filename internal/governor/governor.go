// Package governor wraps every audited operation: it enforces the record
// lock before a mutation runs and appends an audit entry once it finishes.
//
// Callers invoke Run explicitly around the operation, so the ordering of
// lock check, mutation and audit append is visible at the call site:
//
//	err := gov.Run(ctx, governor.Request{
//		Actor:    actor,
//		Verb:     governor.VerbUpdate,
//		Entity:   stays.EntityName,
//		EntityID: id,
//	}, func(ctx context.Context) error {
//		_, err := svc.Update(ctx, id, req)
//		return err
//	})
package governor

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/stayward/stayward/internal/apperr"
	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/lockpolicy"
	"go.uber.org/zap"
)

// Outcome values stored under the "outcome" metadata key.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Actor identifies the caller of a governed operation.
type Actor struct {
	ID         string `json:"id"`
	Role       string `json:"role,omitempty"`
	Privileged bool   `json:"privileged"`
}

// Request describes one governed operation.
type Request struct {
	Actor    Actor
	Verb     Verb
	Entity   string
	EntityID string
	Metadata auditledger.Metadata
}

// Approvals answers whether a record has a usable approved petition.
// *petitions.Workflow satisfies this interface.
type Approvals interface {
	HasApproved(ctx context.Context, recordID string) (bool, error)
}

type governedEntity struct {
	policy    *lockpolicy.Policy
	approvals Approvals
}

// Option configures a Governor.
type Option func(*Governor)

// WithFailureRecording controls whether denied and failed operations are
// appended to the ledger. It is enabled by default.
func WithFailureRecording(enabled bool) Option {
	return func(g *Governor) { g.recordFailures = enabled }
}

// Governor enforces locks and records audit entries around operations.
type Governor struct {
	ledger         auditledger.Ledger
	logger         *zap.Logger
	governed       map[string]governedEntity
	recordFailures bool
}

// New creates a Governor that appends to ledger.
func New(ledger auditledger.Ledger, logger *zap.Logger, opts ...Option) *Governor {
	g := &Governor{
		ledger:         ledger,
		logger:         logger,
		governed:       make(map[string]governedEntity),
		recordFailures: true,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Govern subjects mutations of policy's entity to the lock, with approvals
// consulted for privileged callers. Call it during setup, before Run.
func (g *Governor) Govern(policy *lockpolicy.Policy, approvals Approvals) {
	g.governed[policy.Entity()] = governedEntity{policy: policy, approvals: approvals}
}

// Governed reports whether mutations of entity are lock-checked.
func (g *Governor) Governed(entity string) bool {
	_, ok := g.governed[entity]
	return ok
}

type requestKey struct{}

// SetEntityID records the ID of the entity an operation created, so that the
// audit entry for a create can reference it. It must be called with the
// context passed to the operation by Run.
func SetEntityID(ctx context.Context, id string) {
	if req, ok := ctx.Value(requestKey{}).(*Request); ok {
		req.EntityID = id
	}
}

// AddMetadata attaches extra audit metadata from inside an operation.
func AddMetadata(ctx context.Context, key string, value any) {
	if req, ok := ctx.Value(requestKey{}).(*Request); ok {
		if req.Metadata == nil {
			req.Metadata = auditledger.Metadata{}
		}
		req.Metadata[key] = value
	}
}

// Run performs fn as the governed operation described by req.
//
// For a mutating verb on a governed entity with a known ID, the lock is
// evaluated and enforced first; a rejection is returned without calling fn.
// After fn returns, an audit entry is appended. Audit failures are logged
// and never returned.
func (g *Governor) Run(ctx context.Context, req Request, fn func(ctx context.Context) error) error {
	action, err := req.Verb.Action()
	if err != nil {
		return err
	}
	if req.Entity == "" {
		return apperr.Validation("entity is required")
	}

	start := time.Now()
	req.Metadata = maps.Clone(req.Metadata)
	ctx = context.WithValue(ctx, requestKey{}, &req)

	if err := g.enforce(ctx, &req); err != nil {
		outcome := OutcomeError
		if errors.Is(err, apperr.ErrLocked) {
			outcome = OutcomeDenied
			lockRejectionsTotal.WithLabelValues(req.Entity).Inc()
		}
		g.finish(ctx, &req, action, outcome, err, start)
		return err
	}

	if err := fn(ctx); err != nil {
		g.finish(ctx, &req, action, OutcomeError, err, start)
		return err
	}
	g.finish(ctx, &req, action, OutcomeSuccess, nil, start)
	return nil
}

// Record appends a stand-alone entry for an event that has no wrapped
// operation, such as a login.
func (g *Governor) Record(ctx context.Context, actor Actor, verb Verb, entity, entityID string, metadata auditledger.Metadata) (*auditledger.Entry, error) {
	action, err := verb.Action()
	if err != nil {
		return nil, err
	}
	meta := maps.Clone(metadata)
	if meta == nil {
		meta = auditledger.Metadata{}
	}
	meta["outcome"] = OutcomeSuccess
	if actor.Role != "" {
		meta["role"] = actor.Role
	}
	e, err := g.ledger.Append(ctx, actor.ID, action, entity, entityID, meta)
	if err != nil {
		auditAppendsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	auditAppendsTotal.WithLabelValues("success").Inc()
	return e, nil
}

func (g *Governor) enforce(ctx context.Context, req *Request) error {
	if !req.Verb.Mutating() || req.EntityID == "" {
		return nil
	}
	ge, ok := g.governed[req.Entity]
	if !ok {
		return nil
	}

	rec, _, err := ge.policy.Load(ctx, req.EntityID)
	if err != nil {
		return err
	}
	approved := false
	if rec.IsLocked && req.Actor.Privileged && ge.approvals != nil {
		if approved, err = ge.approvals.HasApproved(ctx, rec.ID); err != nil {
			return err
		}
	}
	if err := ge.policy.Enforce(rec, req.Actor.Privileged, approved); err != nil {
		g.logger.Info("locked record mutation rejected",
			zap.String("entity", req.Entity),
			zap.String("entity_id", req.EntityID),
			zap.String("actor_id", req.Actor.ID),
			zap.Bool("privileged", req.Actor.Privileged),
		)
		return err
	}
	if rec.IsLocked {
		AddMetadata(ctx, "petitionAuthorized", true)
	}
	return nil
}

func (g *Governor) finish(ctx context.Context, req *Request, action auditledger.Action, outcome string, opErr error, start time.Time) {
	operationsTotal.WithLabelValues(req.Entity, string(req.Verb), outcome).Inc()
	if outcome != OutcomeSuccess && !g.recordFailures {
		return
	}

	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = auditledger.Metadata{}
	}
	meta["outcome"] = outcome
	meta["durationMs"] = time.Since(start).Milliseconds()
	if req.Actor.Role != "" {
		meta["role"] = req.Actor.Role
	}
	if opErr != nil {
		meta["error"] = opErr.Error()
	}

	// The caller's context may already be cancelled; the entry should still
	// be written.
	appendCtx := context.WithoutCancel(ctx)
	if _, err := g.ledger.Append(appendCtx, req.Actor.ID, action, req.Entity, req.EntityID, meta); err != nil {
		auditAppendsTotal.WithLabelValues("failure").Inc()
		g.logger.Error("audit append failed",
			zap.String("entity", req.Entity),
			zap.String("entity_id", req.EntityID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return
	}
	auditAppendsTotal.WithLabelValues("success").Inc()
}
