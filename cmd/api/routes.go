package main

import (
	"net/http"

	"screening-gateway/internal/httpapi"
	"screening-gateway/internal/rbac"
	"screening-gateway/internal/voiceagent"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, webhook voiceagent.StatusWebhookHandler, provider voiceagent.Client, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := provider.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusOK, gin.H{"status": "degraded", "provider": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider status callbacks (public; guarded by the shared secret).
	r.POST("/webhooks/voiceagent/status", webhook.HandleStatusCallback)

	// Token issuance uses static operator credentials, not a bearer token.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CALLS routes: dispatch and status polling.
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAdmin))
		{
			calls.POST("/dispatch", h.Dispatch)
		}

		logs := v1.Group("/call-logs")
		logs.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAdmin))
		{
			logs.GET("", h.ListCallLogs)
			logs.GET("/:id", h.GetCallLog)
		}

		// AGENT gate management: inspection for operators, forced release for
		// admins only.
		agents := v1.Group("/agents")
		{
			agents.GET("/:agent_id/gate",
				rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAdmin), h.InspectGate)
			agents.POST("/:agent_id/release",
				rbac.RequireAnyRole(rbac.RoleAdmin), h.ReleaseAgent)
		}

		// BULK passthrough bypasses the gate by contract; admin-only.
		v1.POST("/calls/bulk",
			rbac.RequireAnyRole(rbac.RoleAdmin), h.BulkCreateCalls)

		// REPORTS
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			reports.GET("/agents/:agent_id/gate", h.AgentGateReport)
			reports.GET("/agents/:agent_id/calls", h.AgentCallsReport)
		}
	}
}
