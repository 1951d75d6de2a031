package httpapi

import (
	"github.com/gin-gonic/gin"

	"power-dialer/internal/rbac"
)

// Register mounts the rep command surface on v1. Identity middleware must
// already be installed on the group. dialLimit may be nil.
func (h *Handlers) Register(v1 *gin.RouterGroup, dialLimit gin.HandlerFunc) {
	reps := v1.Group("")
	reps.Use(rbac.RequireAnyRole(rbac.RoleRep, rbac.RoleSupervisor))

	sessions := reps.Group("/sessions")
	{
		sessions.POST("", h.StartSession)
		sessions.GET("/:id", h.GetSession)
		sessions.PATCH("/:id", h.UpdateSettings)
		sessions.POST("/:id/heartbeat", h.Heartbeat)
		sessions.POST("/:id/end", h.EndSession)

		dial := []gin.HandlerFunc{}
		if dialLimit != nil {
			dial = append(dial, dialLimit)
		}
		sessions.POST("/:id/dial", append(dial, h.Dial)...)
	}

	legs := reps.Group("/legs")
	{
		legs.POST("/:id/hangup", h.Hangup)
		legs.POST("/:id/hold", h.Hold)
		legs.POST("/:id/resume", h.Resume)
		legs.POST("/:id/voicemail", h.DropVoicemail)
		legs.POST("/:id/disposition", h.LogDisposition)
	}

	callbacks := reps.Group("/callbacks")
	{
		callbacks.GET("", h.ListCallbacks)
		callbacks.POST("", h.ScheduleCallback)
		callbacks.POST("/:id/cancel", h.CancelCallback)
	}

	reps.GET("/queue", h.GetQueue)
	reps.GET("/leads/:id/recommendation", h.Recommendation)
	reps.GET("/stream", h.Stream)
	reps.GET("/device-token", h.DeviceToken)
}
