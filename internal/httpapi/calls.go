package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"power-dialer/internal/dialer"
	"power-dialer/internal/disposition"
)

type dialRequest struct {
	LeadIDs []string `json:"lead_ids" validate:"required,min=1,max=10,dive,required,max=64"`
}

type dispositionRequest struct {
	// LeadID defaults to the leg's lead.
	LeadID     string              `json:"lead_id" validate:"omitempty,max=64"`
	Outcome    disposition.Outcome `json:"outcome" validate:"required"`
	Notes      string              `json:"notes" validate:"max=2000"`
	CallbackAt *time.Time          `json:"callback_at,omitempty"`
}

// Dial places one batch of parallel legs for the session's rep.
func (h *Handlers) Dial(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req dialRequest
	if !h.bind(c, &req) {
		return
	}

	targets := make([]dialer.Target, 0, len(req.LeadIDs))
	for _, id := range req.LeadIDs {
		lead, err := h.Leads.Get(c.Request.Context(), strings.TrimSpace(id))
		if err != nil {
			writeError(c, err)
			return
		}
		if lead.DoNotContact {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "lead is do-not-contact", "lead_id": lead.ID})
			return
		}
		if lead.RepID != s.RepID {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "lead is not assigned to this rep", "lead_id": lead.ID})
			return
		}
		targets = append(targets, dialer.Target{LeadID: lead.ID, Phone: lead.Phone})
	}

	res, err := h.Dialer.Dial(c.Request.Context(), dialer.DialRequest{SessionID: s.ID, Targets: targets})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handlers) Hangup(c *gin.Context) {
	h.legCommand(c, h.Dialer.Hangup)
}

func (h *Handlers) Hold(c *gin.Context) {
	h.legCommand(c, h.Dialer.Hold)
}

func (h *Handlers) Resume(c *gin.Context) {
	h.legCommand(c, h.Dialer.Resume)
}

func (h *Handlers) DropVoicemail(c *gin.Context) {
	h.legCommand(c, h.Dialer.DropVoicemail)
}

func (h *Handlers) legCommand(c *gin.Context, cmd func(ctx context.Context, legID string) error) {
	l, ok := h.leg(c)
	if !ok {
		return
	}
	if err := cmd(c.Request.Context(), l.ID); err != nil {
		writeError(c, err)
		return
	}
	if l, err := h.Legs.Get(c.Request.Context(), l.ID); err == nil {
		c.JSON(http.StatusOK, l)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leg_id": l.ID})
}

func (h *Handlers) LogDisposition(c *gin.Context) {
	l, ok := h.leg(c)
	if !ok {
		return
	}
	var req dispositionRequest
	if !h.bind(c, &req) {
		return
	}
	leadID := req.LeadID
	if leadID == "" {
		leadID = l.LeadID
	}

	d, err := h.Dispositions.Log(c.Request.Context(), disposition.LogRequest{
		LegID:      l.ID,
		LeadID:     leadID,
		RepID:      l.RepID,
		SessionID:  l.SessionID,
		Outcome:    req.Outcome,
		Notes:      req.Notes,
		CallbackAt: req.CallbackAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}
