package main

import (
	"github.com/gin-gonic/gin"

	"docvai-dashboard/internal/auth"
	"docvai-dashboard/internal/httpapi"
)

// registerRoutes wires HTTP routes to handlers. Keep this file free of
// business logic; handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, m *auth.Manager) {
	// Public: health, login, and the provider's push endpoint.
	r.GET("/healthz", h.Healthz)
	r.POST("/login", h.Login)
	r.POST("/webhooks/bolna", h.Webhook)

	// Everything else requires a session cookie or the admin key.
	protected := r.Group("/", auth.RequireSession(m))
	{
		protected.GET("/whoami", h.Whoami)
		protected.GET("/agents", h.ListAgents)
		protected.POST("/calls-outbound", h.CallsOutbound)
		protected.GET("/conversations", h.Conversations)
		protected.GET("/analytics-summary", h.AnalyticsSummary)
		protected.GET("/analytics-timeseries", h.AnalyticsTimeseries)
		protected.GET("/provider-poll", h.ProviderPoll)
		protected.GET("/provider-sync", h.ProviderSync)
		protected.POST("/provider-import", h.ProviderImport)
		protected.POST("/plivo-sync", h.PlivoSync)
	}
}
