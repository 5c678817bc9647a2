package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers auth routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	authGroup := router.Group("/auth")
	{
		authGroup.GET("/me", h.Me)
	}
}

// Me returns the actor resolved from the bearer token.
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actor": ActorFrom(c)})
}
