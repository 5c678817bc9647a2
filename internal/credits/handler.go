package credits

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/httputil"
)

// Handler handles HTTP requests for credit operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new credits handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers credit routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	credits := router.Group("/credits")
	{
		credits.POST("", h.createCredit)
		credits.GET("", h.listCredits)
		credits.GET("/stats/summary", h.getSummary)
		credits.GET("/:id", h.getCredit)

		credits.POST("/:id/submit", h.submitCredit)
		credits.POST("/:id/issue", h.issueCredit)
		credits.POST("/:id/retire", h.retireCredit)
		credits.POST("/:id/cancel", h.cancelCredit)
	}
}

// createCredit handles POST /api/v1/credits
func (h *Handler) createCredit(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	credit, err := h.service.Create(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to create credit", err)
		return
	}
	c.JSON(http.StatusCreated, credit)
}

// listCredits handles GET /api/v1/credits
func (h *Handler) listCredits(c *gin.Context) {
	filter := Filter{
		ProjectID: c.Query("project_id"),
		Status:    Status(c.Query("status")),
		IssuedTo:  c.Query("issued_to"),
	}
	credits, err := h.service.List(c.Request.Context(), auth.ActorFrom(c), filter)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to list credits", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": credits, "count": len(credits)})
}

// getCredit handles GET /api/v1/credits/:id
func (h *Handler) getCredit(c *gin.Context) {
	credit, err := h.service.Get(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to get credit", err)
		return
	}
	c.JSON(http.StatusOK, credit)
}

// getSummary handles GET /api/v1/credits/stats/summary
func (h *Handler) getSummary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), auth.ActorFrom(c), c.Query("project_id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to summarize credits", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) submitCredit(c *gin.Context) {
	credit, err := h.service.Submit(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to submit credit", err)
		return
	}
	c.JSON(http.StatusOK, credit)
}

// issueCredit handles POST /api/v1/credits/:id/issue
func (h *Handler) issueCredit(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	credit, err := h.service.Issue(c.Request.Context(), auth.ActorFrom(c), c.Param("id"), req)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to issue credit", err)
		return
	}
	c.JSON(http.StatusOK, credit)
}

// retireCredit handles POST /api/v1/credits/:id/retire
func (h *Handler) retireCredit(c *gin.Context) {
	var req RetireRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	credit, err := h.service.Retire(c.Request.Context(), auth.ActorFrom(c), c.Param("id"), req)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to retire credit", err)
		return
	}
	c.JSON(http.StatusOK, credit)
}

func (h *Handler) cancelCredit(c *gin.Context) {
	credit, err := h.service.Cancel(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to cancel credit", err)
		return
	}
	c.JSON(http.StatusOK, credit)
}
