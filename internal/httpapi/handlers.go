package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"power-dialer/internal/auth"
	"power-dialer/internal/calls"
	"power-dialer/internal/dialer"
	"power-dialer/internal/disposition"
	"power-dialer/internal/events"
	"power-dialer/internal/leads"
	"power-dialer/internal/queue"
	"power-dialer/internal/rbac"
	"power-dialer/internal/session"
	"power-dialer/internal/telephony"
)

// LeadStore is the read side of the CRM the handlers need.
type LeadStore interface {
	Get(ctx context.Context, id string) (leads.Lead, error)
}

type LegStore interface {
	Get(ctx context.Context, legID string) (calls.Leg, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sessions     *session.Manager
	Dialer       *dialer.Coordinator
	Dispositions *disposition.Engine
	Queue        *queue.Builder
	Leads        LeadStore
	Legs         LegStore
	Hub          *events.Hub
	// Tokens is nil when the provider is not configured.
	Tokens *telephony.DeviceTokens

	Now func() time.Time

	validate *validator.Validate
}

func NewHandlers(h Handlers) *Handlers {
	if h.Now == nil {
		h.Now = time.Now
	}
	h.validate = validator.New()
	return &h
}

// identity returns the caller set by auth.RequireIdentity.
func identity(c *gin.Context) (repID, role string) {
	repID, _ = auth.RepID(c.Request.Context())
	role, _ = auth.Role(c.Request.Context())
	return repID, role
}

// bind decodes the JSON body into dst and runs struct validation.
func (h *Handlers) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(c, err)
		return false
	}
	return true
}

// authorize aborts with 403 unless the caller may act for repID.
func authorize(c *gin.Context, repID string) bool {
	caller, role := identity(c)
	if !rbac.CanActFor(caller, role, repID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

// session loads the :id session and checks the caller may use it.
func (h *Handlers) session(c *gin.Context) (session.Session, bool) {
	s, err := h.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return session.Session{}, false
	}
	if !authorize(c, s.RepID) {
		return session.Session{}, false
	}
	return s, true
}

// leg loads the :id leg and checks the caller may use it.
func (h *Handlers) leg(c *gin.Context) (calls.Leg, bool) {
	l, err := h.Legs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return calls.Leg{}, false
	}
	if !authorize(c, l.RepID) {
		return calls.Leg{}, false
	}
	return l, true
}

// repParam is ?rep_id= for supervisors, the caller otherwise.
func repParam(c *gin.Context) (string, bool) {
	caller, _ := identity(c)
	rep := strings.TrimSpace(c.Query("rep_id"))
	if rep == "" {
		return caller, true
	}
	return rep, authorize(c, rep)
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
