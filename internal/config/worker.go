package config

import "time"

// WorkerConfig configures the outbox propagator and the transition scheduler.
type WorkerConfig struct {
	// Propagator (outbox drain).
	PropagateInterval time.Duration `envconfig:"PROPAGATE_INTERVAL" default:"1s" validate:"min=100ms"`
	PropagateBatch    int           `envconfig:"PROPAGATE_BATCH" default:"100" validate:"min=1"`

	// Scheduler (wall-clock enable/disable transitions).
	ScheduleInterval time.Duration `envconfig:"SCHEDULE_INTERVAL" default:"5s" validate:"min=1s"`
	FireMaxRetries   int           `envconfig:"FIRE_MAX_RETRIES" default:"5" validate:"min=0"`
	FireBaseBackoff  time.Duration `envconfig:"FIRE_BASE_BACKOFF" default:"250ms" validate:"min=10ms"`
}
