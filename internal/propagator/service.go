// Package propagator implements the worker that drains the write outbox
// into cache invalidations and change-bus events. The outbox row commits in
// the same transaction as its domain mutation, so draining is what makes
// "did the cache clear?" answerable: either the row is pending, or the keys
// were deleted and the event published.
package propagator

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmfontes/skuld/internal/bus"
	"github.com/dmfontes/skuld/internal/observability"
	"github.com/dmfontes/skuld/internal/store"
)

// OutboxSource provides pending propagation rows.
type OutboxSource interface {
	UnprocessedOutbox(ctx context.Context, limit int) ([]store.OutboxRow, error)
	MarkOutboxProcessed(ctx context.Context, ids []int64) error
	OutboxDepth(ctx context.Context) (int64, error)
}

// Invalidator deletes cache keys.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// EventPublisher fans out change events.
type EventPublisher interface {
	Publish(ctx context.Context, projectKey string, event bus.Event) error
}

// Config holds the propagator settings.
type Config struct {
	// Interval is the poll cadence between drain cycles.
	Interval time.Duration

	// Batch caps the rows drained per cycle.
	Batch int
}

// Service drains the outbox on a fixed cadence.
type Service struct {
	logger *slog.Logger
	config Config
	source OutboxSource
	cache  Invalidator
	events EventPublisher
}

// New creates the propagator service.
func New(logger *slog.Logger, cfg Config, source OutboxSource, cache Invalidator, events EventPublisher) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		panic("propagator: outbox source cannot be nil")
	}
	if cache == nil {
		panic("propagator: invalidator cannot be nil")
	}
	if events == nil {
		panic("propagator: event publisher cannot be nil")
	}

	if cfg.Interval < 100*time.Millisecond {
		cfg.Interval = time.Second
	}
	if cfg.Batch < 1 {
		cfg.Batch = 100
	}

	return &Service{logger: logger, config: cfg, source: source, cache: cache, events: events}
}

// Run drains until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting propagator", slog.String("interval", s.config.Interval.String()))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Drain once immediately on startup to pick up rows left by a crash.
	if err := s.Drain(ctx); err != nil {
		s.logger.Error("initial drain failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("propagator stopping")
			return nil
		case <-ticker.C:
			if err := s.Drain(ctx); err != nil {
				// Rows stay pending; the next tick retries them.
				s.logger.Error("drain cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Drain processes one batch of pending rows in id order. A row is marked
// processed only after its invalidation and publish both succeed, so a crash
// mid-drain re-delivers (at-least-once); subscribers tolerate duplicates and
// snapshot deletion is idempotent.
func (s *Service) Drain(ctx context.Context) error {
	rows, err := s.source.UnprocessedOutbox(ctx, s.config.Batch)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		s.reportDepth(ctx)
		return nil
	}

	start := time.Now()
	done := make([]int64, 0, len(rows))

	for _, row := range rows {
		if err := s.cache.Invalidate(ctx, row.CacheKeys...); err != nil {
			s.logger.Warn("invalidation failed, leaving row pending",
				slog.Int64("outbox_id", row.ID),
				slog.String("error", err.Error()),
			)
			// Stop at the first failure to preserve per-project ordering.
			break
		}
		observability.PropagatorInvalidations.Add(float64(len(row.CacheKeys)))

		event := bus.Event{
			Action:         row.Action,
			FlagKey:        row.FlagKey,
			EnvironmentKey: row.EnvironmentKey,
			Enabled:        row.Enabled,
			Timestamp:      row.CreatedAt,
		}
		if err := s.events.Publish(ctx, row.ProjectKey, event); err != nil {
			s.logger.Warn("publish failed, leaving row pending",
				slog.Int64("outbox_id", row.ID),
				slog.String("error", err.Error()),
			)
			break
		}

		done = append(done, row.ID)
	}

	if len(done) > 0 {
		if err := s.source.MarkOutboxProcessed(ctx, done); err != nil {
			return err
		}
		observability.PropagatorRowsTotal.Add(float64(len(done)))
		s.logger.Debug("drain cycle completed",
			slog.Int("processed", len(done)),
			slog.String("duration", time.Since(start).String()),
		)
	}

	s.reportDepth(ctx)
	return nil
}

func (s *Service) reportDepth(ctx context.Context) {
	depth, err := s.source.OutboxDepth(ctx)
	if err != nil {
		return
	}
	observability.OutboxDepth.Set(float64(depth))
}
