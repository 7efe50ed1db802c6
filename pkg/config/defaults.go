package config

import (
	"strings"
	"time"

	"github.com/marmos91/smbtran/internal/bytesize"
	"github.com/marmos91/smbtran/internal/telemetry"
	"github.com/marmos91/smbtran/pkg/rwproxy"
	"github.com/marmos91/smbtran/pkg/session"
	"github.com/marmos91/smbtran/pkg/transport"
	"github.com/marmos91/smbtran/pkg/transport/nbt"
)

// Default values that have no home in a domain package.
const (
	DefaultMetricsAddress   = ":9090"
	DefaultResponderAddress = "0.0.0.0:139"
	DefaultShutdownTimeout  = 30 * time.Second
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans cannot be told apart from false and are left alone
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(cfg)
	applyTelemetryDefaults(cfg)
	applyMetricsDefaults(cfg)
	applyTransportDefaults(&cfg.Transport)
	applySessionDefaults(&cfg.Session)
	applyProxyDefaults(&cfg.Proxy)
	applyResponderDefaults(&cfg.Responder)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *Config) {
	td := telemetry.DefaultConfig()
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = td.ServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = td.ServiceVersion
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = td.Endpoint
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = td.SampleRate
	}

	pd := telemetry.DefaultProfilingConfig()
	if cfg.Profiling.ServiceName == "" {
		cfg.Profiling.ServiceName = pd.ServiceName
	}
	if cfg.Profiling.ServiceVersion == "" {
		cfg.Profiling.ServiceVersion = pd.ServiceVersion
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = pd.Endpoint
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = pd.ProfileTypes
	}
}

func applyMetricsDefaults(cfg *Config) {
	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsAddress
	}
}

func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Family == "" {
		cfg.Family = transport.FamilyNBTCP.String()
	}
	cfg.Family = strings.ToLower(cfg.Family)

	if cfg.SendSize == 0 {
		cfg.SendSize = bytesize.ByteSize(transport.DefaultSendSize)
	}
	if cfg.ReceiveSize == 0 {
		cfg.ReceiveSize = bytesize.ByteSize(transport.DefaultReceiveSize)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = transport.DefaultTimeout
	}
	if cfg.MaxConsecutiveTimeouts == 0 {
		cfg.MaxConsecutiveTimeouts = transport.DefaultMaxConsecutiveTimeouts
	}

	if cfg.NBT.Variant == "" {
		cfg.NBT.Variant = nbt.Length24.String()
	}
	if cfg.NBT.CallingName == "" {
		cfg.NBT.CallingName = nbt.DefaultCallingName
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = session.DefaultTickInterval
	}

	rd := session.DefaultReconnectConfig()
	if cfg.Reconnect.InitialInterval == 0 {
		cfg.Reconnect.InitialInterval = rd.InitialInterval
	}
	if cfg.Reconnect.MaxInterval == 0 {
		cfg.Reconnect.MaxInterval = rd.MaxInterval
	}
	if cfg.Reconnect.MaxElapsed == 0 {
		cfg.Reconnect.MaxElapsed = rd.MaxElapsed
	}
	if cfg.Reconnect.Multiplier == 0 {
		cfg.Reconnect.Multiplier = rd.Multiplier
	}
}

func applyProxyDefaults(cfg *rwproxy.Config) {
	if cfg.Workers == 0 {
		cfg.Workers = rwproxy.DefaultWorkers
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = rwproxy.DefaultQueueDepth
	}
}

func applyResponderDefaults(cfg *ResponderConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultResponderAddress
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Seeding the loader so environment overrides work without a file
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Transport: TransportConfig{
			NBT: NBTConfig{NoDelay: true},
		},
		Session: SessionConfig{
			Reconnect: session.ReconnectConfig{Enabled: true},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
