package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waitercall-platform/internal/abuse"
	"waitercall-platform/internal/async"
	"waitercall-platform/internal/audit"
	"waitercall-platform/internal/auth"
	"waitercall-platform/internal/calls"
	"waitercall-platform/internal/config"
	"waitercall-platform/internal/db"
	"waitercall-platform/internal/delivery"
	"waitercall-platform/internal/httpapi"
	"waitercall-platform/internal/lifecycle"
	"waitercall-platform/internal/mirror"
	"waitercall-platform/internal/notify"
	"waitercall-platform/internal/reporting"
	"waitercall-platform/internal/tables"
	"waitercall-platform/internal/tokens"
	"waitercall-platform/pkg/logger"
	"waitercall-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	sqlDB, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.EnsureSchema(rootCtx, sqlDB); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Push sender: real FCM when credentials are configured, a logging
	// stand-in otherwise (local development without a Firebase project).
	var sender notify.PushSender
	if cfg.Push.CredentialsFile != "" {
		sender, err = notify.NewFCMSender(rootCtx, cfg.Push.CredentialsFile)
		if err != nil {
			log.Error("fcm init failed", "err", err)
			os.Exit(1)
		}
	} else {
		log.Warn("FCM credentials not configured, push delivery disabled")
		sender = notify.NewDisabledSender(log)
	}

	// Stores and domain services.
	callStore := calls.NewSQLStore(sqlDB)
	tableDir := tables.NewSQLDirectory(sqlDB)
	registry := tokens.NewSQLRegistry(sqlDB)
	guard := abuse.NewGuard(abuse.NewSQLBlockRepo(sqlDB), abuse.NewSQLSilenceRepo(sqlDB), log)
	auditor := audit.NewService(audit.NewSQLRepo(sqlDB))

	projector := mirror.NewWriter(mirror.NewRedisBatchWriter(rdb), cfg.Mirror.ActiveCallTTL, log)
	fanout := notify.NewEngine(sender, registry, notify.Options{
		MaxInFlight: cfg.Push.MaxInFlight,
		SendTimeout: cfg.Push.SendTimeout,
		AndroidTTL:  cfg.Push.AndroidTTL,
	}, log)

	executor := async.NewExecutor(async.Options{}, log)

	manager := lifecycle.NewManager(callStore, tableDir, guard, projector, fanout, registry, auditor, executor, log)

	deps := routeDeps{
		handlers: httpapi.Handlers{
			Auth:      authManager,
			Lifecycle: manager,
			Registry:  registry,
			Reporting: reporting.NewService(callStore),
			RateLimit: func(c *gin.Context, ip string) (bool, error) {
				return utils.RateLimitAllow(c.Request.Context(), rdb, "ratelimit:create:"+ip, 10, time.Minute)
			},
		},
		streamer: delivery.NewStreamer(callStore, cfg.Stream, log),
		poller:   delivery.NewPoller(callStore, cfg.Stream, log),
		authMW:   auth.RequireAccessToken(authManager),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, streamRoutePatterns...))

	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Must exceed the SSE stream ceiling or streams die mid-flight.
		WriteTimeout: cfg.Stream.MaxAge + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Drain deferred mirror/fanout/audit work before the process exits.
	if err := executor.Close(shutdownCtx); err != nil {
		log.Error("executor drain failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
