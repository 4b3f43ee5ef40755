package main

import (
	"waitercall-platform/internal/delivery"
	"waitercall-platform/internal/httpapi"
	"waitercall-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Stream routes are excluded from request-summary logging; SSE requests only
// finish minutes after they start.
var streamRoutePatterns = []string{
	"/v1/calls/:call_id/stream",
	"/v1/tables/:table_id/call/stream",
}

type routeDeps struct {
	handlers httpapi.Handlers
	streamer *delivery.Streamer
	poller   *delivery.Poller
	authMW   gin.HandlerFunc
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")

	// Table-facing endpoints carry no credentials; the table id from the QR
	// code is the only identity. Abuse control happens inside the lifecycle
	// (IP blocks, silences) and at the rate limiter.
	{
		v1.POST("/calls", deps.handlers.CreateCall)
		v1.GET("/calls/:call_id", deps.handlers.GetCall)
		v1.GET("/calls/:call_id/stream", deps.streamer.StreamCall)
		v1.GET("/tables/:table_id/call/stream", deps.streamer.StreamTable)
	}

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	v1.POST("/auth/login", deps.handlers.Login)

	// Staff API.
	staff := v1.Group("")
	staff.Use(deps.authMW)
	{
		staff.POST("/devices/tokens", deps.handlers.RegisterToken)

		workCalls := staff.Group("/calls")
		workCalls.Use(httpapi.RequireBusinessAndAnyRole(rbac.RoleWaiter, rbac.RoleManager)...)
		{
			workCalls.POST("/:call_id/acknowledge", deps.handlers.AcknowledgeCall)
			workCalls.POST("/:call_id/complete", deps.handlers.CompleteCall)
		}

		waiters := staff.Group("/waiters")
		waiters.Use(httpapi.RequireBusinessAndAnyRole(rbac.RoleWaiter, rbac.RoleManager)...)
		{
			waiters.GET("/:waiter_id/calls/poll", deps.poller.Poll)
		}

		businesses := staff.Group("/businesses")
		businesses.Use(httpapi.RequireBusinessAndAnyRole(rbac.RoleManager)...)
		{
			businesses.GET("/:business_id/calls/report", deps.handlers.CallsReport)
		}

		admin := staff.Group("/admin")
		admin.Use(httpapi.RequireBusinessAndAnyRole(rbac.RoleManager)...)
		{
			admin.POST("/tokens/purge", deps.handlers.PurgeTokens)
		}
	}
}
