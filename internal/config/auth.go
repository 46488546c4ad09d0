package config

import "time"

// AuthConfig points at the external identity collaborator that resolves
// admin bearer credentials to (project, actor) tuples.
type AuthConfig struct {
	URL     string        `envconfig:"URL"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"3s" validate:"min=100ms"`
}

// EvalLogConfig configures the evaluation log sink.
type EvalLogConfig struct {
	// SampleRate is the fraction of loggable decisions persisted, in [0,1].
	SampleRate float64 `envconfig:"SAMPLE_RATE" default:"1.0" validate:"min=0,max=1"`

	BufferSize    int           `envconfig:"BUFFER_SIZE" default:"4096" validate:"min=1"`
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"128" validate:"min=1"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"2s" validate:"min=100ms"`
}
