package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docvai-dashboard/internal/apperr"
	"docvai-dashboard/pkg/logger"
)

// respondError maps a domain error to its status code and {error, detail}
// body. Unrecognized errors become opaque 500s; underlying causes are logged,
// never leaked.
func respondError(c *gin.Context, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		if ae.Err != nil {
			logger.FromGin(c).Error("request failed", "error", ae.Kind.Code(), "err", ae.Err)
		}
		body := gin.H{"error": ae.Kind.Code()}
		if ae.Detail != "" {
			body["detail"] = ae.Detail
		}
		c.AbortWithStatusJSON(ae.HTTPStatus(), body)
		return
	}

	logger.FromGin(c).Error("request failed", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
}
