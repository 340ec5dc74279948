package handler

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stayward/stayward/internal/apperr"
	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/governor"
	"github.com/stayward/stayward/internal/identity"
	"github.com/stayward/stayward/internal/petitions"
	"go.uber.org/zap"
)

// PetitionHandler handles HTTP requests for unlock petitions.
type PetitionHandler struct {
	wf     *petitions.Workflow
	gov    *governor.Governor
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewPetitionHandler creates a new PetitionHandler.
func NewPetitionHandler(wf *petitions.Workflow, gov *governor.Governor, tokens *identity.TokenIssuer, logger *zap.Logger) *PetitionHandler {
	return &PetitionHandler{wf: wf, gov: gov, tokens: tokens, logger: logger}
}

// Register mounts the petition routes on the given router group.
func (h *PetitionHandler) Register(rg *gin.RouterGroup) {
	p := rg.Group("/petitions")
	{
		p.POST("", identity.RequireUser(h.tokens), h.Submit)
		p.GET("", identity.RequireAdmin(h.tokens), h.List)
		p.GET("/:id", identity.RequireUser(h.tokens), h.Get)
		p.PATCH("/:id/review", identity.RequireAdmin(h.tokens), h.Review)
	}
}

type submitPetitionRequest struct {
	RecordID string `json:"record_id" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// Submit handles POST /petitions.
func (h *PetitionHandler) Submit(c *gin.Context) {
	var req submitPetitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	actor := identity.ActorFromCtx(c)
	var p *petitions.Petition
	err := h.gov.Run(c.Request.Context(), governedRequest(c, petitions.EntityName, "", auditledger.Metadata{"recordId": req.RecordID}), func(ctx context.Context) error {
		var err error
		p, err = h.wf.Submit(ctx, req.RecordID, actor.ID, req.Reason)
		if err != nil {
			return err
		}
		governor.SetEntityID(ctx, p.ID)
		return nil
	})
	if err != nil {
		respondError(c, h.logger, "submit petition", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// List handles GET /petitions, filtered by ?status= and ?record_id=.
func (h *PetitionHandler) List(c *gin.Context) {
	q := petitions.ListQuery{
		Status:   petitions.Status(strings.ToUpper(c.Query("status"))),
		RecordID: c.Query("record_id"),
	}
	var err error
	if q.Page, err = parseIntParam(c, "page", petitions.MaxPage); err != nil {
		respondError(c, h.logger, "list petitions", err)
		return
	}
	if q.Limit, err = parseIntParam(c, "limit", math.MaxInt32); err != nil {
		respondError(c, h.logger, "list petitions", err)
		return
	}

	var page *petitions.ListPage
	err = h.gov.Run(c.Request.Context(), governedRequest(c, petitions.EntityName, "", auditledger.Metadata{"status": string(q.Status)}), func(ctx context.Context) error {
		var err error
		page, err = h.wf.List(ctx, q)
		return err
	})
	if err != nil {
		respondError(c, h.logger, "list petitions", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get handles GET /petitions/:id. Non-administrators only see their own
// petitions.
func (h *PetitionHandler) Get(c *gin.Context) {
	id := c.Param("id")
	actor := identity.ActorFromCtx(c)

	var p *petitions.Petition
	err := h.gov.Run(c.Request.Context(), governedRequest(c, petitions.EntityName, id, nil), func(ctx context.Context) error {
		var err error
		p, err = h.wf.Get(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Privileged && p.RequesterID != actor.ID {
			return apperr.ErrNotFound
		}
		return nil
	})
	if err != nil {
		respondError(c, h.logger, "get petition", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type reviewPetitionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Notes    string `json:"notes"`
}

// Review handles PATCH /petitions/:id/review.
func (h *PetitionHandler) Review(c *gin.Context) {
	var req reviewPetitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	id := c.Param("id")
	decision := petitions.Status(strings.ToUpper(strings.TrimSpace(req.Decision)))
	actor := identity.ActorFromCtx(c)

	var p *petitions.Petition
	err := h.gov.Run(c.Request.Context(), governedRequest(c, petitions.EntityName, id, auditledger.Metadata{"decision": string(decision)}), func(ctx context.Context) error {
		var err error
		p, err = h.wf.Review(ctx, id, decision, actor.ID, req.Notes)
		if err != nil {
			return err
		}
		governor.AddMetadata(ctx, "recordId", p.RecordID)
		return nil
	})
	if err != nil {
		respondError(c, h.logger, "review petition", err)
		return
	}
	c.JSON(http.StatusOK, p)
}
