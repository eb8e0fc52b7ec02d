package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"outdial-platform/internal/httpapi"
	"outdial-platform/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers. Keep this file free of
// business logic; handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, metricsHandler http.Handler) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metricsHandler))

	// Provider webhooks (public).
	// NOTE: Protect with Telnyx signature validation in production.
	r.POST("/webhooks/telnyx", h.TelnyxWebhook)

	v1 := r.Group("/v1")

	// Token issuance.
	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(authMW)
	protected.Use(rbac.RequireOrganization())
	{
		// Queue control is a supervisor action.
		queues := protected.Group("/queues")
		queues.Use(rbac.RequireAnyRole(rbac.RoleManager, rbac.RoleAdmin))
		{
			queues.POST("/:campaign_id/start", h.StartQueue)
			queues.POST("/:campaign_id/stop", h.StopQueue)
			queues.GET("/:campaign_id/status", h.QueueStatus)
		}

		calls := protected.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.TransferRoles()...))
		{
			calls.GET("/:call_id", h.GetCall)
			calls.GET("/:call_id/events", h.ListCallEvents)
		}

		transfers := protected.Group("/transfers")
		transfers.Use(rbac.RequireAnyRole(rbac.TransferRoles()...))
		{
			transfers.POST("", h.RequestTransfer)
			transfers.GET("/pending", h.PendingTransfers)
			transfers.POST("/:transfer_id/accept", h.AcceptTransfer)
			transfers.POST("/:transfer_id/reject", h.RejectTransfer)
			transfers.POST("/:transfer_id/complete", h.CompleteTransfer)
		}

		alerts := protected.Group("/alerts")
		alerts.Use(rbac.RequireAnyRole(rbac.SupervisorRoles()...))
		{
			alerts.POST("/:alert_id/resolve", h.ResolveAlert)
		}

		agents := protected.Group("/agents")
		agents.Use(rbac.RequireAnyRole(rbac.TransferRoles()...))
		{
			agents.PUT("/availability", h.SetAvailability)
		}

		// Live event stream for dashboards.
		protected.GET("/ws", h.Subscribe)
	}
}
