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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"docvai-dashboard/internal/analytics"
	"docvai-dashboard/internal/auth"
	"docvai-dashboard/internal/bolna"
	"docvai-dashboard/internal/calls"
	"docvai-dashboard/internal/config"
	"docvai-dashboard/internal/dispatch"
	"docvai-dashboard/internal/httpapi"
	"docvai-dashboard/internal/plivo"
	"docvai-dashboard/internal/reconcile"
	"docvai-dashboard/pkg/logger"
	"docvai-dashboard/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown.
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

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns: cfg.DB.MaxConns,
	})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := calls.NewPostgresStore(db)
	if err := store.EnsureSchema(rootCtx); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	// Redis is optional: without it the agent cache and the sync lock
	// degrade to direct provider calls and unguarded syncs.
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Warn("redis unavailable, continuing without it", "err", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	provider := bolna.NewClient(cfg.Bolna)
	var agents bolna.AgentLister = provider
	if rdb != nil {
		agents = bolna.NewCachedAgentLister(provider, rdb, time.Minute, log)
	}

	engine := reconcile.NewEngine(store, log)

	var plivoSyncer *plivo.Syncer
	if cfg.Plivo.Enabled() {
		plivoSyncer = plivo.NewSyncer(plivo.NewClient(cfg.Plivo), engine, cfg.Plivo.LookbackMin, cfg.Plivo.PageLimit)
		if cfg.Plivo.SyncInterval > 0 {
			go plivoSyncer.RunPeriodic(logger.With(rootCtx, log), cfg.Plivo.SyncInterval)
		}
	}

	dispatcher := dispatch.New(provider, engine, dispatch.Options{
		FallbackAgentID:   cfg.Bolna.AgentID,
		DefaultFromNumber: cfg.Bolna.OutboundCallerID,
		WebhookURL:        cfg.Bolna.WebhookURL,
		MaxConcurrent:     cfg.Dispatch.MaxConcurrent,
	}, log)

	h := httpapi.Handlers{
		Auth:          authManager,
		Agents:        agents,
		Provider:      provider,
		Store:         store,
		Engine:        engine,
		Dispatch:      dispatcher,
		Analytics:     analytics.NewService(store, cfg.Bolna.OutboundCallerID),
		PlivoSyncer:   plivoSyncer,
		DB:            db,
		Redis:         rdb,
		SecureCookies: cfg.IsProduction(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(cors.New(corsConfig(cfg.CORS)))

	registerRoutes(r, h, authManager)

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
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	out := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.AllowAll || len(cfg.Origins) == 0 {
		// Credentialed requests cannot use a wildcard origin, so echo the
		// caller's origin instead.
		out.AllowOriginFunc = func(origin string) bool { return true }
		return out
	}
	out.AllowOrigins = cfg.Origins
	return out
}
