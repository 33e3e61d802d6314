package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mediahub/internal/apperr"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidState:
		return http.StatusBadRequest
	case apperr.KindUpstreamFailure:
		return http.StatusBadGateway
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalid:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"detail": message} and aborts the chain.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	switch kind {
	case apperr.KindUnauthorized:
		c.Header("WWW-Authenticate", "Bearer")
	case apperr.KindInternal, apperr.KindUpstreamFailure:
		h.cfg.Logger.WithFields(logrus.Fields{
			"path": c.Request.URL.Path,
			"kind": kind.String(),
		}).Errorf("request error: %v", err)
	}

	c.AbortWithStatusJSON(status, gin.H{"detail": apperr.MessageOf(err)})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": message})
}
