// Command skuld-control runs the admin HTTP plane: project-scoped CRUD for
// flags, segments and environments against the configuration store.
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

	"github.com/dmfontes/skuld/internal/config"
	"github.com/dmfontes/skuld/internal/controlapi"
	"github.com/dmfontes/skuld/internal/database"
	"github.com/dmfontes/skuld/internal/identity"
	"github.com/dmfontes/skuld/internal/logger"
	"github.com/dmfontes/skuld/internal/observability"
	"github.com/dmfontes/skuld/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("skuld-control exited with error", slog.String("error", err.Error()))
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

	configStore := store.New(pool, log)
	resolver := identity.NewHTTPResolver(cfg.Auth.URL, cfg.Auth.Timeout)
	api := controlapi.NewAPI(configStore, resolver)

	obs := observability.NewServer(log, &cfg.Observability, database.NewHealthChecker(pool))
	obs.Start()

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Control.Host, cfg.Server.Control.Port),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.Control.ReadTimeout,
		WriteTimeout:      cfg.Server.Control.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.Control.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.Control.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.Control.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("control plane listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control plane server failed: %w", err)
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
