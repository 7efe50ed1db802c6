package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/smbtran/internal/bytesize"
	"github.com/marmos91/smbtran/internal/logger"
	"github.com/marmos91/smbtran/internal/telemetry"
	"github.com/marmos91/smbtran/pkg/metrics"
	"github.com/marmos91/smbtran/pkg/rwproxy"
	"github.com/marmos91/smbtran/pkg/session"
)

// EnvPrefix prefixes every environment override, e.g.
// SMBTRAN_LOGGING_LEVEL=DEBUG or SMBTRAN_TRANSPORT_TIMEOUT=5s.
const EnvPrefix = "SMBTRAN"

// Config is the smbtran configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SMBTRAN_*)
//  3. Configuration file (YAML or JSON)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging logger.Config `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`

	// Profiling controls Pyroscope continuous profiling
	Profiling telemetry.ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`

	// Metrics configures the Prometheus endpoint
	Metrics metrics.ServerConfig `mapstructure:"metrics" yaml:"metrics"`

	// Transport holds the options of every transport instance
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Session configures client sessions (ping)
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Proxy sizes the asynchronous request workers
	Proxy rwproxy.Config `mapstructure:"proxy" yaml:"proxy"`

	// Responder configures the NBT responder (echo)
	Responder ResponderConfig `mapstructure:"responder" yaml:"responder"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// TransportConfig mirrors transport.Options in configuration form.
type TransportConfig struct {
	// Family selects the carrier: "nbtcp".
	Family string `mapstructure:"family" yaml:"family" validate:"required,oneof=nbtcp nbt"`

	// SendSize bounds outbound payloads. Supports "1MiB", "64KiB".
	SendSize bytesize.ByteSize `mapstructure:"send_size" yaml:"send_size"`

	// ReceiveSize bounds inbound frame lengths.
	ReceiveSize bytesize.ByteSize `mapstructure:"receive_size" yaml:"receive_size"`

	// Timeout bounds connect, send and receive. 0 disables it.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`

	// QoS is the IP traffic class (TOS byte).
	QoS uint32 `mapstructure:"qos" yaml:"qos" validate:"lte=255"`

	// MaxConsecutiveTimeouts escalates to fatal. 0 disables escalation.
	MaxConsecutiveTimeouts int `mapstructure:"max_consecutive_timeouts" yaml:"max_consecutive_timeouts" validate:"gte=0"`

	// StallGrace is added to Timeout before TimeoutTick declares a stall.
	StallGrace time.Duration `mapstructure:"stall_grace" yaml:"stall_grace" validate:"gte=0"`

	NBT NBTConfig `mapstructure:"nbt" yaml:"nbt"`
}

// NBTConfig holds NetBIOS-over-TCP options.
type NBTConfig struct {
	// Variant is the header length layout: "length24" or "length17".
	Variant string `mapstructure:"variant" yaml:"variant" validate:"omitempty,oneof=length24 length17 24 17 rfc1002"`

	// CalledName enables the session request exchange (e.g. "*SMBSERVER").
	CalledName string `mapstructure:"called_name" yaml:"called_name" validate:"max=15"`

	// CallingName identifies this client in session requests.
	CallingName string `mapstructure:"calling_name" yaml:"calling_name" validate:"max=15"`

	// KeepAlive is the TCP keepalive period. Negative disables it.
	KeepAlive time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`

	NoDelay bool `mapstructure:"no_delay" yaml:"no_delay"`
}

// SessionConfig configures client sessions.
type SessionConfig struct {
	// Remote is the default peer as host:port.
	Remote string `mapstructure:"remote" yaml:"remote" validate:"omitempty,host_port"`

	// Local optionally binds the source address (host:port, port may be 0).
	Local string `mapstructure:"local" yaml:"local" validate:"omitempty,host_port"`

	// TickInterval is how often TimeoutTick runs.
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`

	Reconnect session.ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
}

// ResponderConfig configures the NBT responder.
type ResponderConfig struct {
	// ListenAddress is the host:port to listen on. 139 is the NetBIOS
	// session service port.
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" validate:"required,host_port"`

	// Names lists served called names. Empty accepts any name.
	Names []string `mapstructure:"names" yaml:"names" validate:"dive,max=15"`

	// MaxConnections limits concurrent sessions. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`

	// MaxFrameSize bounds inbound frames. 0 means the variant maximum.
	MaxFrameSize bytesize.ByteSize `mapstructure:"max_frame_size" yaml:"max_frame_size"`

	// IdleTimeout closes silent sessions. 0 disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`
}

// Load loads configuration from defaults, file and environment, then
// validates it.
//
// A missing file is not an error: defaults plus environment are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if err := seedDefaults(v); err != nil {
		return nil, err
	}
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigDir returns $XDG_CONFIG_HOME/smbtran, ~/.config/smbtran, or "."
// when no home directory is known.
func GetConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "smbtran")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "smbtran")
}

// GetDefaultConfigPath returns the config file used when none is given.
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether the default config file exists.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// seedDefaults loads the default configuration into v so every key is known
// and environment overrides apply even without a config file.
func seedDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	return v.MergeConfigMap(m)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(GetConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile merges the config file over the defaults. Returns whether a
// file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can use sizes like "64KiB" or "1MiB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds.
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
