// Package scheduler fires flag-environment enable/disable transitions at
// their wall-clock times. The durable state is the scheduled_transitions
// table (the row id is the handle); this service is only the poller that
// notices due rows and applies them. Firing is idempotent and failures never
// touch the decision path.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/dmfontes/skuld/internal/observability"
	"github.com/dmfontes/skuld/internal/store"
)

// TransitionStore is the store surface the scheduler drives.
type TransitionStore interface {
	DueTransitions(ctx context.Context, now time.Time, limit int) ([]store.DueTransition, error)
	ApplyTransition(ctx context.Context, t store.DueTransition) error
	RecordTransitionFailure(ctx context.Context, id uuid.UUID, maxAttempts int) (bool, error)
}

// Config holds the scheduler settings.
type Config struct {
	// Interval is the poll cadence for due transitions.
	Interval time.Duration

	// MaxRetries bounds the in-process retry attempts per firing.
	MaxRetries int

	// BaseBackoff seeds the exponential retry backoff.
	BaseBackoff time.Duration
}

// Service polls for due transitions and applies them.
type Service struct {
	logger *slog.Logger
	config Config
	store  TransitionStore

	// now is injectable for tests.
	now func() time.Time
}

// New creates the scheduler service.
func New(logger *slog.Logger, cfg Config, transitions TransitionStore) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if transitions == nil {
		panic("scheduler: transition store cannot be nil")
	}

	if cfg.Interval < time.Second {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 250 * time.Millisecond
	}

	return &Service{logger: logger, config: cfg, store: transitions, now: time.Now}
}

// Run polls until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting scheduler", slog.String("interval", s.config.Interval.String()))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick fires every currently-due transition once.
func (s *Service) Tick(ctx context.Context) error {
	due, err := s.store.DueTransitions(ctx, s.now(), 100)
	if err != nil {
		return err
	}

	for _, t := range due {
		s.fire(ctx, t)
	}
	return nil
}

// fire applies one transition with bounded exponential retry. A transition
// whose handle has been cancelled applies as a no-op inside the store, so
// retrying and double-firing are both safe.
func (s *Service) fire(ctx context.Context, t store.DueTransition) {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(s.config.BaseBackoff)),
		uint64(s.config.MaxRetries),
	), ctx)

	err := backoff.Retry(func() error {
		return s.store.ApplyTransition(ctx, t)
	}, policy)

	if err == nil {
		observability.SchedulerFiringsTotal.WithLabelValues(string(t.Kind), "success").Inc()
		s.logger.Info("transition fired",
			slog.String("flag_key", t.FlagKey),
			slog.String("environment", t.EnvironmentKey),
			slog.String("kind", string(t.Kind)),
		)
		return
	}

	observability.SchedulerFiringsTotal.WithLabelValues(string(t.Kind), "fail").Inc()

	terminal, recErr := s.store.RecordTransitionFailure(ctx, t.ID, s.config.MaxRetries)
	if recErr != nil {
		s.logger.Error("failed to record transition failure",
			slog.String("handle", t.ID.String()),
			slog.String("error", recErr.Error()),
		)
		return
	}

	if terminal {
		s.logger.Error("transition abandoned after max attempts",
			slog.String("handle", t.ID.String()),
			slog.String("flag_key", t.FlagKey),
			slog.String("environment", t.EnvironmentKey),
			slog.String("kind", string(t.Kind)),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Warn("transition firing failed, will retry next tick",
			slog.String("handle", t.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
