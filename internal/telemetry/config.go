package telemetry

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	// Enabled turns on span export. When false every span is a no-op.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ServiceName is reported to the trace backend.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// ServiceVersion is reported to the trace backend.
	ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`

	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling ratio, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// DefaultConfig returns tracing disabled with local collector defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "smbtran",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
