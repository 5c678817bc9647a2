package attestation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/httputil"
)

// Handler handles HTTP requests for attestations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new attestation handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers attestation routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	attestations := router.Group("/attestations")
	{
		attestations.POST("", h.submit)
		attestations.GET("", h.list)
		attestations.GET("/:id", h.get)
		attestations.GET("/:id/verify", h.verify)

		attestations.POST("/:id/reanchor", h.reanchor)
		attestations.POST("/:id/resolve", h.resolve)
	}
}

// submit handles POST /api/v1/attestations. The record is returned as soon
// as it is persisted; anchoring completes asynchronously.
func (h *Handler) submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.service.Submit(c.Request.Context(), auth.ActorFrom(c), req.ProjectID, req.AnalysisData)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to submit attestation", err)
		return
	}

	c.JSON(http.StatusAccepted, record)
}

// list handles GET /api/v1/attestations
func (h *Handler) list(c *gin.Context) {
	filter := Filter{
		ProjectID: c.Query("project_id"),
		Status:    LedgerStatus(c.Query("ledger_status")),
	}

	records, err := h.service.List(c.Request.Context(), auth.ActorFrom(c), filter)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to list attestations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"attestations": records, "count": len(records)})
}

// get handles GET /api/v1/attestations/:id
func (h *Handler) get(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to get attestation", err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// verify handles GET /api/v1/attestations/:id/verify
func (h *Handler) verify(c *gin.Context) {
	verification, err := h.service.Verify(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to verify attestation", err)
		return
	}

	c.JSON(http.StatusOK, verification)
}

// reanchor handles POST /api/v1/attestations/:id/reanchor
func (h *Handler) reanchor(c *gin.Context) {
	record, err := h.service.Reanchor(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to re-anchor attestation", err)
		return
	}

	c.JSON(http.StatusAccepted, record)
}

// resolve handles POST /api/v1/attestations/:id/resolve
func (h *Handler) resolve(c *gin.Context) {
	var outcome Outcome
	if err := c.ShouldBindJSON(&outcome); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.service.Resolve(c.Request.Context(), auth.ActorFrom(c), c.Param("id"), outcome)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to resolve attestation", err)
		return
	}

	c.JSON(http.StatusOK, record)
}
