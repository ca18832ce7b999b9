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

	"screening-gateway/internal/audit"
	"screening-gateway/internal/auth"
	"screening-gateway/internal/config"
	"screening-gateway/internal/gate"
	"screening-gateway/internal/httpapi"
	"screening-gateway/internal/reporting"
	"screening-gateway/internal/voiceagent"
	"screening-gateway/pkg/logger"
	"screening-gateway/pkg/utils"

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

	provider, err := voiceagent.NewRESTClient(voiceagent.Options{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
	})
	if err != nil {
		log.Error("provider init failed", "err", err)
		os.Exit(1)
	}

	// Audit trail: Postgres when configured, in-memory otherwise.
	var auditRepo audit.Repository
	var auditReader audit.Reader
	if cfg.AuditPostgresEnabled() {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := audit.NewPostgresRepo(db)
		auditRepo, auditReader = pg, pg
		log.Info("audit trail using postgres")
	} else {
		mem := audit.NewMemoryRepo()
		auditRepo, auditReader = mem, mem
		log.Info("audit trail in memory")
	}
	auditSvc := audit.NewService(auditRepo)

	// Lock store: Redis widens lock visibility across processes when wanted.
	var store gate.Store
	if cfg.Gate.Store == "redis" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		store = gate.NewRedisStore(rdb, 0)
		log.Info("gate store using redis")
	} else {
		store = gate.NewMemoryStore()
	}

	g := gate.New(store, provider, gate.NewScheduler(), gate.Tunables{
		PollInterval:     cfg.Gate.PollInterval,
		WatchCeiling:     cfg.Gate.WatchCeiling,
		ListCheckDelay:   cfg.Gate.ListCheckDelay,
		ListCheckMinGap:  cfg.Gate.ListCheckMinGap,
		ErrorStreakLimit: cfg.Gate.ErrorStreakLimit,
		ErrorWindow:      cfg.Gate.ErrorWindow,
		NoIDReleaseDelay: cfg.Gate.NoIDReleaseDelay,
	}, log, audit.NewGateRecorder(auditSvc, log))

	handlers := httpapi.Handlers{
		Auth:      authManager,
		AuthCfg:   cfg.Auth,
		Gate:      g,
		Provider:  provider,
		Reporting: reporting.NewService(auditReader, provider),
	}
	webhook := voiceagent.StatusWebhookHandler{Gate: g, Secret: cfg.Provider.WebhookSecret}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, webhook, provider, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
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
	log.Info("shutdown complete")
}
