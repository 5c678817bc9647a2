package fielddata

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/httputil"
)

const maxImageBytes = 20 << 20

// Handler handles HTTP requests for field data
type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers field data routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	fd := router.Group("/field-data")
	{
		fd.POST("", h.create)
		fd.GET("", h.list)
		fd.GET("/:id", h.get)
		fd.POST("/:id/images", h.uploadImages)
		fd.POST("/:id/validate", h.validate)
	}
}

func (h *Handler) create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fd, err := h.service.Create(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to create field data", err)
		return
	}
	c.JSON(http.StatusCreated, fd)
}

func (h *Handler) list(c *gin.Context) {
	filter := Filter{
		ProjectID: c.Query("project_id"),
		Validated: httputil.BoolQuery(c, "validated"),
	}
	entries, err := h.service.List(c.Request.Context(), auth.ActorFrom(c), filter)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to list field data", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"field_data": entries, "count": len(entries)})
}

func (h *Handler) get(c *gin.Context) {
	fd, err := h.service.Get(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to get field data", err)
		return
	}
	c.JSON(http.StatusOK, fd)
}

// uploadImages handles multipart POST /api/v1/field-data/:id/images with
// one or more "files" parts.
func (h *Handler) uploadImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var images []Image
	for _, fh := range form.File["files"] {
		if fh.Size > maxImageBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds size limit: " + fh.Filename})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		images = append(images, Image{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	fd, err := h.service.AttachEvidence(c.Request.Context(), auth.ActorFrom(c), c.Param("id"), images)
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to attach field evidence", err)
		return
	}
	c.JSON(http.StatusOK, fd)
}

func (h *Handler) validate(c *gin.Context) {
	fd, err := h.service.Validate(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		httputil.RespondError(c, h.logger, "Failed to validate field data", err)
		return
	}
	c.JSON(http.StatusOK, fd)
}
