package reports

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/httputil"
)

// Handler handles HTTP requests for reporting operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new reports handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers reporting routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/reports")
	{
		reports.GET("/credits/export", h.exportCredits)
		reports.GET("/credits/:id/certificate", h.certificate)
	}
}

// exportCredits handles GET /api/v1/reports/credits/export
func (h *Handler) exportCredits(c *gin.Context) {
	format := ExportFormat(c.DefaultQuery("format", string(ExportFormatExcel)))
	doc, err := h.service.ExportCredits(c.Request.Context(), auth.ActorFrom(c), c.Query("project_id"), format)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to export credits", err)
		return
	}
	h.serve(c, doc)
}

// certificate handles GET /api/v1/reports/credits/:id/certificate
func (h *Handler) certificate(c *gin.Context) {
	doc, err := h.service.Certificate(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to render certificate", err)
		return
	}
	h.serve(c, doc)
}

func (h *Handler) serve(c *gin.Context, doc *Document) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}
