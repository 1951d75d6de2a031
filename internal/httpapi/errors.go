package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"power-dialer/internal/calls"
	"power-dialer/internal/dialer"
	"power-dialer/internal/disposition"
	"power-dialer/internal/leads"
	"power-dialer/internal/session"
	"power-dialer/internal/telephony"
	"power-dialer/pkg/logger"
)

// writeError maps service errors to status codes. Unknown errors are logged
// and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	var conflict *session.ConflictError
	if errors.As(err, &conflict) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":               err.Error(),
			"existing_session_id": conflict.ExistingSessionID,
		})
		return
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.From(c.Request.Context()).Error("request failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dialer.ErrInvalidTargets),
		errors.Is(err, disposition.ErrInvalidOutcome),
		errors.Is(err, disposition.ErrInvalidArgument),
		errors.Is(err, disposition.ErrCallbackInPast),
		errors.Is(err, session.ErrInvalidStats),
		errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, leads.ErrInvalidArgument),
		errors.Is(err, calls.ErrInvalidState):
		return http.StatusBadRequest

	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, calls.ErrNotFound),
		errors.Is(err, calls.ErrUnknownLeg),
		errors.Is(err, disposition.ErrNotFound),
		errors.Is(err, leads.ErrNotFound),
		errors.Is(err, dialer.ErrNoSession):
		return http.StatusNotFound

	case errors.Is(err, session.ErrSessionConflict),
		errors.Is(err, session.ErrSessionEnded),
		errors.Is(err, session.ErrNotOwner),
		errors.Is(err, dialer.ErrBatchInFlight),
		errors.Is(err, dialer.ErrLinesBusy),
		errors.Is(err, dialer.ErrLegNotLive),
		errors.Is(err, disposition.ErrAlreadyDispositioned),
		errors.Is(err, disposition.ErrCallbackNotPending),
		errors.Is(err, calls.ErrIllegalTransition):
		return http.StatusConflict

	case errors.Is(err, disposition.ErrDoNotContact):
		return http.StatusUnprocessableEntity

	case errors.Is(err, dialer.ErrNoVoicemail):
		return http.StatusNotImplemented

	case errors.Is(err, telephony.ErrTransient),
		errors.Is(err, telephony.ErrRejected),
		errors.Is(err, telephony.ErrLegGone):
		return http.StatusBadGateway

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
