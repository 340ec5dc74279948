package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/governor"
	"github.com/stayward/stayward/internal/identity"
	"github.com/stayward/stayward/internal/lockpolicy"
	"github.com/stayward/stayward/internal/stays"
	"go.uber.org/zap"
)

// StayHandler handles HTTP requests for stays. Updates and deletes of a
// stay are lock-checked by the governor.
type StayHandler struct {
	svc    *stays.Service
	policy *lockpolicy.Policy
	gov    *governor.Governor
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewStayHandler creates a new StayHandler.
func NewStayHandler(svc *stays.Service, policy *lockpolicy.Policy, gov *governor.Governor, tokens *identity.TokenIssuer, logger *zap.Logger) *StayHandler {
	return &StayHandler{svc: svc, policy: policy, gov: gov, tokens: tokens, logger: logger}
}

// Register mounts the stay routes on the given router group.
func (h *StayHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/stays")
	{
		s.POST("", identity.RequireUser(h.tokens), h.Create)
		s.GET("/:id", identity.RequireUser(h.tokens), h.Get)
		s.PATCH("/:id", identity.RequireUser(h.tokens), h.Update)
		s.DELETE("/:id", identity.RequireAdmin(h.tokens), h.Delete)
		s.POST("/:id/check-in", identity.RequireUser(h.tokens), h.CheckIn)
		s.POST("/:id/check-out", identity.RequireUser(h.tokens), h.CheckOut)
	}
}

// Create handles POST /stays.
func (h *StayHandler) Create(c *gin.Context) {
	var req stays.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	var stay *stays.Stay
	err := h.gov.Run(c.Request.Context(), governedRequest(c, stays.EntityName, "", auditledger.Metadata{"apartmentId": req.ApartmentID}), func(ctx context.Context) error {
		var err error
		stay, err = h.svc.Create(ctx, req)
		if err != nil {
			return err
		}
		governor.SetEntityID(ctx, stay.ID)
		return nil
	})
	if err != nil {
		respondError(c, h.logger, "create stay", err)
		return
	}
	c.JSON(http.StatusCreated, stay)
}

// Get handles GET /stays/:id. Reading a stay evaluates its lock, so a stay
// past the threshold is reported locked.
func (h *StayHandler) Get(c *gin.Context) {
	id := c.Param("id")
	var stay *stays.Stay
	err := h.gov.Run(c.Request.Context(), governedRequest(c, stays.EntityName, id, nil), func(ctx context.Context) error {
		if _, _, err := h.policy.Load(ctx, id); err != nil {
			return err
		}
		var err error
		stay, err = h.svc.Get(ctx, id)
		return err
	})
	if err != nil {
		respondError(c, h.logger, "get stay", err)
		return
	}
	c.JSON(http.StatusOK, stay)
}

// Update handles PATCH /stays/:id.
func (h *StayHandler) Update(c *gin.Context) {
	var req stays.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	id := c.Param("id")
	h.mutate(c, "update stay", id,
		auditledger.Metadata{"changes": req.Changes()},
		func(ctx context.Context) (*stays.Stay, error) { return h.svc.Update(ctx, id, req) })
}

// CheckIn handles POST /stays/:id/check-in.
func (h *StayHandler) CheckIn(c *gin.Context) {
	id := c.Param("id")
	h.mutate(c, "check in stay", id,
		auditledger.Metadata{"operation": "check-in"},
		func(ctx context.Context) (*stays.Stay, error) { return h.svc.CheckIn(ctx, id) })
}

// CheckOut handles POST /stays/:id/check-out.
func (h *StayHandler) CheckOut(c *gin.Context) {
	id := c.Param("id")
	h.mutate(c, "check out stay", id,
		auditledger.Metadata{"operation": "check-out"},
		func(ctx context.Context) (*stays.Stay, error) { return h.svc.CheckOut(ctx, id) })
}

// Delete handles DELETE /stays/:id.
func (h *StayHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	err := h.gov.Run(c.Request.Context(), governedRequest(c, stays.EntityName, id, nil), func(ctx context.Context) error {
		return h.svc.Delete(ctx, id)
	})
	if err != nil {
		respondError(c, h.logger, "delete stay", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StayHandler) mutate(c *gin.Context, op string, id string, meta auditledger.Metadata, fn func(ctx context.Context) (*stays.Stay, error)) {
	req := governedRequest(c, stays.EntityName, id, meta)
	// check-in and check-out are POSTs that update the stay.
	req.Verb = governor.VerbUpdate

	var stay *stays.Stay
	err := h.gov.Run(c.Request.Context(), req, func(ctx context.Context) error {
		var err error
		stay, err = fn(ctx)
		return err
	})
	if err != nil {
		respondError(c, h.logger, op, err)
		return
	}
	c.JSON(http.StatusOK, stay)
}
