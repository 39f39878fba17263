package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"voice-platform/internal/agents"
	"voice-platform/internal/audit"
	"voice-platform/internal/calls"
	"voice-platform/internal/config"
	"voice-platform/internal/costs"
	"voice-platform/internal/events"
	"voice-platform/internal/httpapi"
	"voice-platform/internal/pricing"
	"voice-platform/internal/reporting"
	"voice-platform/internal/routing"
	"voice-platform/internal/sessions"
	"voice-platform/internal/tasks"
	"voice-platform/internal/telephony"
	"voice-platform/internal/transfer"
	"voice-platform/internal/usage"
	"voice-platform/internal/voices"
	"voice-platform/internal/wallet"
	"voice-platform/internal/webhook"
	"voice-platform/pkg/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	memoryQueueInterval = 250 * time.Millisecond
	outboundHTTPTimeout = 30 * time.Second
	readinessTimeout    = 2 * time.Second
)

// app holds the wired services shared by routes and background work.
type app struct {
	cfg      config.Config
	handlers httpapi.Handlers
	wallet   *wallet.Service
	events   *events.Handler
	twilio   telephony.TwilioWebhookHandler
	livekit  telephony.LiveKitWebhookHandler
	checks   map[string]httpapi.Check

	runQueue func(ctx context.Context) error
}

func buildApp(cfg config.Config, db *sql.DB, rdb *redis.Client) *app {
	store := sessions.NewPostgresRepo(db)
	usageRepo := usage.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	walletSvc := wallet.NewService(db)
	agentSvc := agents.NewService(agents.NewPostgresRepo(db))
	priceSvc := pricing.NewService(&pricing.MemoryRepo{Rates: pricing.DefaultRates()})
	broker := events.NewBroker()
	dispatcher := webhook.NewDispatcher(&http.Client{Timeout: outboundHTTPTimeout})

	var (
		queue    tasks.Queue
		runQueue func(ctx context.Context) error
	)
	switch cfg.Calls.QueueBackend {
	case "memory":
		q := tasks.NewMemoryQueue(time.Now)
		queue = q
		runQueue = func(ctx context.Context) error { return q.Run(ctx, memoryQueueInterval) }
	default:
		q := tasks.NewRedisQueue(rdb, tasks.RedisQueueConfig{Prefix: "calls"})
		queue = q
		runQueue = q.Run
	}

	// A nil gateway must stay a nil interface so callers report "not configured".
	var (
		rooms calls.RoomGateway
		sig   transfer.Signaling
	)
	if gw := telephony.NewGateway(cfg.LiveKit); gw != nil {
		rooms, sig = gw, gw
	}

	lc := calls.NewLifecycle(store, queue).
		WithLimiter(calls.NewRedisLimiter(rdb, cfg.Calls.MaxConcurrentOutbound)).
		WithPublisher(broker).
		WithGateway(rooms).
		WithWebhooks(agentSvc, dispatcher)
	lc.Register(queue)

	aggregator := costs.NewAggregator(store, usageRepo).WithCharger(walletSvc).WithAuditor(auditSvc)
	queue.Register(tasks.TypeSettleCost, aggregator.HandleTask)

	orch := calls.NewOrchestrator(lc, agentSvc, rooms, calls.OutboundConfig{
		Configured:      cfg.LiveKit.Configured() && cfg.LiveKit.OutboundTrunkID != "",
		TrunkID:         cfg.LiveKit.OutboundTrunkID,
		NoAnswerTimeout: cfg.Calls.NoAnswerTimeout,
		EnforceBalance:  cfg.Calls.EnforceBalance,
	}).WithBalance(walletSvc)

	xfers := calls.NewTransfers(store, transfer.NewClient(sig), cfg.LiveKit.OutboundTrunkID).
		WithLocker(calls.NewRedisLocker(rdb)).
		WithAuditor(auditSvc).
		WithPublisher(broker)

	var catalog *voices.Catalog
	if cfg.Resemble.APIKey != "" {
		catalog = voices.NewCatalog(cfg.Resemble.APIKey, cfg.Resemble.CacheTTL, &http.Client{Timeout: outboundHTTPTimeout}, time.Now)
	}

	engine := routing.NewRoutingEngine(agentSvc, walletSvc, cfg.Twilio.SIPDomain, cfg.Calls.EnforceBalance)

	return &app{
		cfg: cfg,
		handlers: httpapi.Handlers{
			Sessions:     store,
			Lifecycle:    lc,
			Orchestrator: orch,
			Transfers:    xfers,
			Usage:        usage.NewRecorder(usageRepo, store, priceSvc, lc),
			UsageEvents:  usageRepo,
			Costs:        reporting.NewService(usageRepo, agentSvc),
			Pricing:      priceSvc,
			Agents:       agentSvc,
			Webhooks:     dispatcher,
			Tokens:       telephony.NewTokenIssuer(cfg.LiveKit),
			Voices:       catalog,
			Wallet:       walletSvc,
			Audit:        auditSvc,
		},
		wallet: walletSvc,
		events: events.NewHandler(broker, cfg.CORS.AllowedOrigins),
		twilio: telephony.TwilioWebhookHandler{
			Router:    routing.NewEngineAdapter(engine),
			AuthToken: cfg.Twilio.AuthToken,
		},
		livekit:  telephony.NewLiveKitWebhookHandler(cfg.LiveKit, lc),
		checks: map[string]httpapi.Check{
			"postgres": func(ctx context.Context) error { return utils.HealthCheck(ctx, db, readinessTimeout) },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		runQueue: runQueue,
	}
}

func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	c := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.AllowedOrigins
		c.AllowCredentials = true
	}
	c.AddAllowHeaders("Authorization", "X-Request-Id")
	c.AddExposeHeaders("X-Request-Id")
	return cors.New(c)
}
