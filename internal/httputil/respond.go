package httputil

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
)

// StatusFor maps an error kind to the HTTP status returned to callers.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrAnchorFailure):
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrEncoding):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RespondError writes err as {"error": ...}. Unclassified errors are logged
// and reported without their detail.
func RespondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// IntQuery reads a positive integer query parameter.
func IntQuery(c *gin.Context, key string, defaultValue int) int {
	if v := c.Query(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return defaultValue
}

// BoolQuery reads an optional boolean query parameter.
func BoolQuery(c *gin.Context, key string) *bool {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
