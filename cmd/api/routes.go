package main

import (
	"power-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app) {
	// public
	r.GET("/healthz", a.handlers.Health)

	// Provider webhooks (public, signature checked when enabled).
	twilio := r.Group("/webhooks/twilio")
	{
		twilio.POST("/status", a.webhooks.HandleStatusCallback)
		twilio.POST("/voice", a.webhooks.HandleInboundCall)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireIdentity())
	a.handlers.Register(v1, a.limiter.RateLimit())
}
