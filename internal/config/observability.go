package config

import "time"

// ObservabilityConfig holds configuration for the observability server
// (metrics and probes).
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout is the unified safety valve for read/write operations.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate checks the observability configuration.
func (o *ObservabilityConfig) Validate() error {
	return validatePort(o.Port, "observability")
}
