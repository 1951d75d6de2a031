package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"power-dialer/internal/disposition"
	"power-dialer/internal/recommend"
)

type scheduleCallbackRequest struct {
	LeadID    string    `json:"lead_id" validate:"required,max=64"`
	SessionID string    `json:"session_id" validate:"omitempty,max=64"`
	At        time.Time `json:"at" validate:"required"`
	Notes     string    `json:"notes" validate:"max=2000"`
}

// historyLimit is how many past dispositions feed a recommendation.
const historyLimit = 20

func (h *Handlers) ScheduleCallback(c *gin.Context) {
	var req scheduleCallbackRequest
	if !h.bind(c, &req) {
		return
	}
	lead, err := h.Leads.Get(c.Request.Context(), req.LeadID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !authorize(c, lead.RepID) {
		return
	}

	cb, err := h.Dispositions.ScheduleCallback(c.Request.Context(), disposition.ScheduleRequest{
		LeadID:    lead.ID,
		RepID:     lead.RepID,
		SessionID: req.SessionID,
		At:        req.At,
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cb)
}

func (h *Handlers) CancelCallback(c *gin.Context) {
	cb, err := h.Dispositions.Callback(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !authorize(c, cb.RepID) {
		return
	}
	cb, err = h.Dispositions.CancelCallback(c.Request.Context(), cb.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cb)
}

func (h *Handlers) ListCallbacks(c *gin.Context) {
	rep, ok := repParam(c)
	if !ok {
		return
	}
	cbs, err := h.Dispositions.ListPending(c.Request.Context(), rep)
	if err != nil {
		writeError(c, err)
		return
	}
	if cbs == nil {
		cbs = []disposition.Callback{}
	}
	c.JSON(http.StatusOK, gin.H{"callbacks": cbs})
}

func (h *Handlers) GetQueue(c *gin.Context) {
	rep, ok := repParam(c)
	if !ok {
		return
	}
	q, err := h.Queue.Build(c.Request.Context(), rep, h.Now().UTC())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *Handlers) Recommendation(c *gin.Context) {
	lead, err := h.Leads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !authorize(c, lead.RepID) {
		return
	}
	ctx := c.Request.Context()

	history, err := h.Dispositions.History(ctx, lead.ID, historyLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	pending, err := h.Dispositions.ListPending(ctx, lead.RepID)
	if err != nil {
		writeError(c, err)
		return
	}
	sig := recommend.Signals{Temperature: lead.Temperature, EngagementScore: lead.EngagementScore}
	for _, cb := range pending {
		if cb.LeadID == lead.ID {
			sig.PendingCallback = true
			break
		}
	}

	rec := recommend.Recommend(recommend.FromDispositions(history), sig, h.Now().UTC())
	c.JSON(http.StatusOK, gin.H{"lead_id": lead.ID, "recommendation": rec})
}
