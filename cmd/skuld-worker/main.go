// Command skuld-worker runs the background plane: the outbox propagator
// (cache invalidation + change-bus publishing) and the scheduled-transition
// scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmfontes/skuld/internal/bus"
	"github.com/dmfontes/skuld/internal/cache"
	"github.com/dmfontes/skuld/internal/config"
	"github.com/dmfontes/skuld/internal/database"
	"github.com/dmfontes/skuld/internal/logger"
	"github.com/dmfontes/skuld/internal/observability"
	"github.com/dmfontes/skuld/internal/propagator"
	"github.com/dmfontes/skuld/internal/scheduler"
	"github.com/dmfontes/skuld/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("skuld-worker exited with error", slog.String("error", err.Error()))
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

	configStore := store.New(pool, log)
	publisher := bus.NewPublisher(redisClient)

	prop := propagator.New(log, propagator.Config{
		Interval: cfg.Worker.PropagateInterval,
		Batch:    cfg.Worker.PropagateBatch,
	}, configStore, l2, publisher)

	sched := scheduler.New(log, scheduler.Config{
		Interval:    cfg.Worker.ScheduleInterval,
		MaxRetries:  cfg.Worker.FireMaxRetries,
		BaseBackoff: cfg.Worker.FireBaseBackoff,
	}, configStore)

	obs := observability.NewServer(log, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	obs.Start()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := prop.Run(ctx); err != nil {
			log.Error("propagator stopped with error", slog.String("error", err.Error()))
		}
	}()
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			log.Error("scheduler stopped with error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	return obs.Shutdown(shutdownCtx)
}
