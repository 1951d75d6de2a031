package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"power-dialer/internal/events"
	"power-dialer/internal/rbac"
	"power-dialer/pkg/logger"
)

// Stream serves the dashboard event feed as server-sent events.
// ?admin=1 subscribes to every rep (supervisor/admin only); ?producer=1 claims
// the rep's producer slot.
func (h *Handlers) Stream(c *gin.Context) {
	caller, role := identity(c)
	opts := events.SubscribeOptions{
		RepID:    caller,
		Admin:    c.Query("admin") == "1",
		Producer: c.Query("producer") == "1",
	}
	if opts.Admin && role != rbac.RoleSupervisor && !rbac.IsAdmin(role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if rep := c.Query("rep_id"); rep != "" && !opts.Admin {
		if !authorize(c, rep) {
			return
		}
		opts.RepID = rep
	}

	sub, err := h.Hub.Subscribe(opts)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer h.Hub.Unsubscribe(sub.ID)

	log := logger.From(c.Request.Context())

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"subscriber_id": sub.ID, "rep_id": sub.RepID, "admin": sub.Admin, "producer": h.Hub.IsProducer(sub.RepID, sub.ID)})
	c.Writer.Flush()
	log.Info("dashboard connected", "subscriber_id", sub.ID, "rep_id", sub.RepID, "admin", sub.Admin)

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			log.Info("dashboard disconnected", "subscriber_id", sub.ID)
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		}
	}
}
