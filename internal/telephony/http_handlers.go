package telephony

import (
	"context"
	"errors"
	"net/http"
	"time"

	"power-dialer/internal/calls"
	"power-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// LegEventSink applies provider leg events. Implemented by the dial coordinator.
type LegEventSink interface {
	ApplyProviderEvent(ctx context.Context, legID string, reported calls.State, at time.Time) (calls.Transition, error)
}

// InboundRouter decides what to do with an inbound call.
type InboundRouter interface {
	RouteInbound(ctx context.Context, req InboundCallRequest) (InboundCallResult, error)
}

// TwilioWebhookHandler converts Twilio webhooks to internal types and
// delegates to the dialer (status callbacks) or the router (inbound voice).
//
// No business logic here.
type TwilioWebhookHandler struct {
	Legs    LegEventSink
	Inbound InboundRouter

	// AuthToken enables signature validation when ValidateSignatures is set.
	AuthToken          string
	ValidateSignatures bool
	// PublicBaseURL is prefixed to the request path when checking signatures.
	PublicBaseURL string

	Now func() time.Time
}

func (h TwilioWebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// HandleStatusCallback always acknowledges with 200 so Twilio does not retry
// events we chose to ignore; problems are logged instead.
func (h TwilioWebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.From(c.Request.Context())

	if !h.signatureOK(c) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	if h.Legs == nil {
		log.Error("status callback received but dialer not configured")
		c.Status(http.StatusOK)
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.Status(http.StatusOK)
		return
	}
	ev, ok := form.ToProviderEvent(h.now())
	if !ok || ev.LegID == "" {
		log.Warn("twilio status ignored", "call_sid", form.CallSid, "status", form.CallStatus)
		c.Status(http.StatusOK)
		return
	}

	tr, err := h.Legs.ApplyProviderEvent(c.Request.Context(), ev.LegID, ev.State, ev.At)
	switch {
	case errors.Is(err, calls.ErrUnknownLeg):
		log.Warn("status for unknown leg", "leg_id", ev.LegID, "state", ev.State)
	case err != nil:
		log.Error("status apply failed", "leg_id", ev.LegID, "state", ev.State, "err", err)
	case !tr.Applied:
		log.Warn("duplicate or stale leg status", "leg_id", ev.LegID, "reported", ev.State, "current", tr.From)
	default:
		log.Debug("leg transition", "leg_id", ev.LegID, "from", tr.From, "to", tr.To)
	}
	c.Status(http.StatusOK)
}

func (h TwilioWebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.From(c.Request.Context())

	if !h.signatureOK(c) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	if h.Inbound == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound router not configured"})
		return
	}

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	res, err := h.Inbound.RouteInbound(c.Request.Context(), form.ToInboundCallRequest(h.now()))
	if err != nil {
		log.Error("inbound call routing failed", "err", err)
		res = InboundCallResult{Action: InboundCallActionReject, Reason: "routing_error"}
	}

	twiml, err := RenderTwiML(res)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h TwilioWebhookHandler) signatureOK(c *gin.Context) bool {
	if !h.ValidateSignatures {
		return true
	}
	if err := c.Request.ParseForm(); err != nil {
		return false
	}
	full := h.PublicBaseURL + c.Request.URL.RequestURI()
	ok := ValidateTwilioSignature(h.AuthToken, full, c.Request.PostForm, c.GetHeader("X-Twilio-Signature"))
	if !ok {
		logger.From(c.Request.Context()).Warn("twilio signature rejected", "path", c.Request.URL.Path)
	}
	return ok
}
