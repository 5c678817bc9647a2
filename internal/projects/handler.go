package projects

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/httputil"
)

// Handler handles HTTP requests for project operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new projects handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers project routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	projects := router.Group("/projects")
	{
		projects.POST("", h.createProject)
		projects.GET("", h.listProjects)
		projects.GET("/:id", h.getProject)
		projects.PUT("/:id", h.updateProject)
		projects.GET("/:id/history", h.getHistory)

		projects.POST("/:id/submit", h.submitProject)
		projects.POST("/:id/approve", h.approveProject)
		projects.POST("/:id/reject", h.rejectProject)
	}
}

// createProject handles POST /api/v1/projects
func (h *Handler) createProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := h.service.Create(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to create project", err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

// listProjects handles GET /api/v1/projects
func (h *Handler) listProjects(c *gin.Context) {
	filter := Filter{
		OwnerID: c.Query("owner_id"),
		Status:  Status(c.Query("status")),
	}

	projects, err := h.service.List(c.Request.Context(), auth.ActorFrom(c), filter)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to list projects", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

// getProject handles GET /api/v1/projects/:id
func (h *Handler) getProject(c *gin.Context) {
	project, err := h.service.Get(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to get project", err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// updateProject handles PUT /api/v1/projects/:id
func (h *Handler) updateProject(c *gin.Context) {
	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := h.service.Update(c.Request.Context(), auth.ActorFrom(c), c.Param("id"), req)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to update project", err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// getHistory handles GET /api/v1/projects/:id/history
func (h *Handler) getHistory(c *gin.Context) {
	history, err := h.service.History(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to get project history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

// submitProject handles POST /api/v1/projects/:id/submit
func (h *Handler) submitProject(c *gin.Context) {
	project, err := h.service.SubmitForReview(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to submit project", err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// approveProject handles POST /api/v1/projects/:id/approve
func (h *Handler) approveProject(c *gin.Context) {
	var req ReviewRequest
	// notes are optional on approval; an empty body is accepted
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	project, err := h.service.Approve(c.Request.Context(), auth.ActorFrom(c), c.Param("id"), req.Notes)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to approve project", err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// rejectProject handles POST /api/v1/projects/:id/reject
func (h *Handler) rejectProject(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := h.service.Reject(c.Request.Context(), auth.ActorFrom(c), c.Param("id"), req.Notes)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to reject project", err)
		return
	}

	c.JSON(http.StatusOK, project)
}
