// Command skuld-edge runs the decision plane: the decision RPC, bulk
// decisions, SDK bootstrap/evaluate and the subscribe stream, backed by the
// L1/L2 snapshot caches.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmfontes/skuld/internal/bus"
	"github.com/dmfontes/skuld/internal/cache"
	"github.com/dmfontes/skuld/internal/config"
	"github.com/dmfontes/skuld/internal/database"
	"github.com/dmfontes/skuld/internal/decisionapi"
	"github.com/dmfontes/skuld/internal/engine"
	"github.com/dmfontes/skuld/internal/evallog"
	"github.com/dmfontes/skuld/internal/identity"
	"github.com/dmfontes/skuld/internal/logger"
	"github.com/dmfontes/skuld/internal/observability"
	"github.com/dmfontes/skuld/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("skuld-edge exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	l2 := cache.NewRedisCache(redisClient, cfg.Redis.SnapshotTTL)
	defer func() { _ = l2.Close() }()

	l1, err := cache.NewMemoryCache(cfg.Server.Edge.L1Capacity, cfg.Server.Edge.L1TTL)
	if err != nil {
		return fmt.Errorf("failed to build l1 cache: %w", err)
	}
	defer l1.Close()

	configStore := store.New(pool, log)
	evaluator := engine.New(log)

	sink := evallog.New(log, evallog.Config{
		SampleRate:    cfg.EvalLog.SampleRate,
		BufferSize:    cfg.EvalLog.BufferSize,
		BatchSize:     cfg.EvalLog.BatchSize,
		FlushInterval: cfg.EvalLog.FlushInterval,
	}, configStore)
	defer sink.Close()

	subscriber := bus.NewSubscriber(redisClient, log)
	resolver := identity.NewHTTPResolver(cfg.Auth.URL, cfg.Auth.Timeout)

	api := decisionapi.NewAPI(l1, l2, configStore, evaluator, sink, subscriber, resolver, configStore, decisionapi.Options{
		StreamPingInterval: int64(cfg.Server.Edge.StreamPingInterval.Seconds()),
	})

	// Change-bus events drop same-process L1 entries ahead of the TTL.
	go decisionapi.RunL1Invalidation(ctx, log, l1, subscriber.SubscribeAll(ctx))

	obs := observability.NewServer(log, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	obs.Start()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Edge.Host, cfg.Server.Edge.Port),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.Edge.ReadTimeout,
		WriteTimeout:      cfg.Server.Edge.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Edge.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Edge.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("edge plane listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("edge plane server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	return obs.Shutdown(shutdownCtx)
}
