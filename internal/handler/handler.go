// Package handler exposes Stayward over HTTP with Gin.
//
// Every audited route runs its operation through governor.Run so that the
// lock check, the operation and the audit append happen in that order.
package handler

import (
	"errors"
	"maps"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stayward/stayward/internal/apperr"
	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/governor"
	"github.com/stayward/stayward/internal/identity"
	"go.uber.org/zap"
)

// AuditEntity is the entity name recorded when the audit log itself is read.
const AuditEntity = "Audit"

// governedRequest describes the operation behind c for governor.Run. The
// verb follows the HTTP method, and the metadata carries the request's
// provenance merged with meta.
func governedRequest(c *gin.Context, entity, entityID string, meta auditledger.Metadata) governor.Request {
	md := auditledger.Metadata{
		"method":    c.Request.Method,
		"path":      c.FullPath(),
		"handler":   c.HandlerName(),
		"ip":        c.ClientIP(),
		"userAgent": c.Request.UserAgent(),
	}
	maps.Copy(md, meta)
	return governor.Request{
		Actor:    identity.ActorFromCtx(c),
		Verb:     governor.VerbForMethod(c.Request.Method),
		Entity:   entity,
		EntityID: entityID,
		Metadata: md,
	}
}

// statusFor maps an error from the domain packages to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrNotLocked):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrLocked):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrDuplicatePending), errors.Is(err, apperr.ErrAlreadyReviewed),
		errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Unexpected failures are
// logged and reported without their cause.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	if !apperr.IsDomain(err) {
		logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	status := statusFor(err)

	body := gin.H{"error": err.Error()}
	var locked *apperr.LockedError
	if errors.As(err, &locked) {
		body["record_id"] = locked.RecordID
		if locked.LockedAt != nil {
			body["locked_at"] = locked.LockedAt.UTC().Format(time.RFC3339)
		}
	}
	c.JSON(status, body)
}
