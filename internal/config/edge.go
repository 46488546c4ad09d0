package config

import "time"

// EdgePlaneConfig configures the decision/SDK HTTP server.
type EdgePlaneConfig struct {
	Port              string        `envconfig:"PORT" default:"8090"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"2s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// WriteTimeout must stay generous: the subscribe stream holds its
	// response open for the life of the client connection.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"0s"`

	// L1 in-process snapshot cache.
	L1Capacity int           `envconfig:"L1_CAPACITY" default:"10000" validate:"min=1"`
	L1TTL      time.Duration `envconfig:"L1_TTL" default:"5s" validate:"min=100ms"`

	// StreamPingInterval is the keep-alive cadence on subscribe streams.
	StreamPingInterval time.Duration `envconfig:"STREAM_PING_INTERVAL" default:"25s" validate:"min=1s"`
}

// Validate checks the edge plane configuration.
func (c *EdgePlaneConfig) Validate() error {
	if err := validatePort(c.Port, "edge plane"); err != nil {
		return err
	}
	return validateHost(c.Host, "edge plane")
}
