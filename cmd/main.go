package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nearcast/internal/app/hub"
	"nearcast/internal/app/server"
	"nearcast/internal/config"
	"nearcast/internal/core/contracts"
	"nearcast/internal/core/services"
	"nearcast/internal/platform/logger"
	"nearcast/internal/platform/telemetry"
	"nearcast/internal/plugins/postgres"
	redisPlugin "nearcast/internal/plugins/redis"
)

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	}
	defer func() {
		if otelShutdown == nil {
			return
		}
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Location store
	var store contracts.LocationStore
	switch cfg.Store.Backend {
	case "redis":
		rdb, err := redisPlugin.NewRedisClient(ctx, *cfg.Redis)
		if err != nil {
			log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
			return
		}
		defer rdb.Close()
		log.Info("redis connected")
		store = redisPlugin.NewRedisLocationStore(rdb, cfg.Geo.RadiusEpsilonKm)
	default:
		pdb, err := postgres.New(ctx, *cfg.Postgres)
		if err != nil {
			log.Error("postgres connection failed", "DSN", cfg.Postgres.DSN, "err", err)
			return
		}
		defer pdb.Close()
		log.Info("postgres connected")
		store = postgres.NewLocationRepository(pdb, cfg.Geo.RadiusEpsilonKm)
	}

	// Coordination layer
	h := hub.NewHub(log)
	watchers := services.NewWatcherService(log, h, store)
	traces := services.NewTraceService(log, h, store, cfg.Geo.TraceDropOnRequesterClose)
	dispatcher := services.NewDispatcherService(
		log, h, store, watchers, traces,
		cfg.Geo.DefaultRadiusKm, cfg.Geo.DefaultTraceThresholdKm,
	)

	// Server
	srv := server.NewServer(cfg.Service.Addr, log, dispatcher)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "err", err)
	}
	h.Shutdown()
	log.Info("application stopped")
}
