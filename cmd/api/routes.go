package main

import (
	"voice-platform/internal/auth"
	"voice-platform/internal/httpapi"
	"voice-platform/internal/rbac"
	"voice-platform/internal/wallet"
	"voice-platform/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, authManager *auth.Manager) {
	r.Use(metrics.Middleware())

	// public
	r.GET("/healthz", httpapi.Health)
	r.GET("/readyz", httpapi.Ready(a.checks))
	r.GET("/metrics", metrics.Handler())

	// Provider webhooks verify their own signatures.
	r.POST("/webhooks/twilio/voice", a.twilio.HandleInboundCall)
	r.POST("/webhooks/livekit", a.livekit.Handle)

	h := a.handlers

	// Users and the media worker share these; handlers scope reads to the caller.
	api := r.Group("/api")
	api.Use(auth.RequireAnyToken(authManager, auth.TokenTypeAccess, auth.TokenTypeService))
	{
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/transcripts", h.ListTranscripts)
		api.POST("/sessions/:id/transcripts", h.AddTranscript)
		api.GET("/sessions/:id/cost-breakdown", h.GetSessionCostBreakdown)
		api.POST("/sessions/:id/transfer", wallet.RequireSufficientBalance(a.wallet, a.cfg.Calls.EnforceBalance), h.TransferSession)

		api.GET("/sessions/by-room/:room", h.GetSessionByRoom)
		api.POST("/sessions/by-room/:room/end", h.EndSessionByRoom)
		api.POST("/sessions/by-room/:room/answered", h.MarkAnsweredByRoom)
		api.POST("/sessions/by-room/:room/transcripts", h.AddTranscriptByRoom)

		api.GET("/calls/:id/status", h.GetCallStatus)
		api.POST("/usage/events", h.RecordUsage)
		api.GET("/pricing/rates", h.ListRates)
		api.POST("/livekit/token", h.IssueRoomToken)
	}

	// Media-worker only.
	worker := api.Group("")
	worker.Use(rbac.RequireAnyRole(rbac.RoleWorker))
	{
		worker.GET("/telephony/lookup", h.LookupNumber)
		worker.POST("/agents/:id/webhooks/pre-call", h.RunPreCallWebhook)
	}

	user := api.Group("")
	user.Use(rbac.RequireUser())
	{
		user.GET("/sessions", h.ListSessions)
		user.POST("/calls/outbound", h.CreateOutboundCall)

		user.GET("/costs/summary", h.CostSummary)
		user.GET("/costs/timeline", h.CostTimeline)
		user.GET("/costs/by-agent", h.CostByAgent)

		user.GET("/agents", h.ListAgents)
		user.POST("/agents", h.CreateAgent)
		user.GET("/agents/:id", h.GetAgent)
		user.POST("/agents/:id/number", h.AssignNumber)
		user.DELETE("/agents/:id/number", h.ReleaseNumber)

		user.GET("/resemble/voices", h.ListVoices)
		user.GET("/wallet/balance", h.GetWalletBalance)
		user.GET("/events/ws", a.events.Stream)
	}

	admin := user.Group("/admin")
	admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
	{
		admin.POST("/wallets/credit", h.AdminCreditWallet)
	}
}
