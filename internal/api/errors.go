package api

import (
	"net/http"

	"github.com/courierlink/courier/internal/fault"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps the fault taxonomy onto HTTP status codes. Unclassified
// errors become 500 with a generic body.
func (a *API) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		status = http.StatusNotFound
	case fault.KindForbidden:
		status = http.StatusForbidden
	case fault.KindBadRequest, fault.KindCrypto:
		status = http.StatusBadRequest
	case fault.KindConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
