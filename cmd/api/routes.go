package main

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"

	"crm-telephony/internal/httpapi"
	"crm-telephony/pkg/utils"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, db *sql.DB) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by provider signature
	// validation in production.
	webhooks := r.Group("/webhooks/telephony")
	{
		webhooks.POST("/incoming", h.IncomingWebhook)
		webhooks.POST("/status", h.StatusWebhook)
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/provider", h.Provider)
		v1.POST("/provider", h.SetProvider)

		calls := v1.Group("/calls")
		{
			calls.POST("/dial", h.Dial)
			calls.POST("/end", h.End)
			calls.POST("/answer", h.Answer)
			calls.POST("/reject", h.Reject)
			calls.POST("/dtmf", h.DTMF)
			calls.POST("/mute", h.Mute)
			calls.POST("/hold", h.Hold)
			calls.GET("/current", h.Current)
			calls.GET("/history", h.History)
			calls.GET("/logs", h.Logs)
		}

		v1.POST("/sms", h.SMS)
	}
}
