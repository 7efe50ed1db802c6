package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/smbtran/internal/logger"
	"github.com/marmos91/smbtran/internal/telemetry"
	"github.com/marmos91/smbtran/pkg/config"
)

// loadConfig loads the file named by --config (or the default location)
// and initializes the logger from it.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, "", err
	}
	return cfg, getConfigSource(path), nil
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initTelemetry starts tracing and returns its shutdown. Tracing is a no-op
// unless telemetry.enabled is set.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	tcfg := cfg.Telemetry
	if tcfg.ServiceVersion == "" || tcfg.ServiceVersion == "dev" {
		tcfg.ServiceVersion = Version
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", tcfg.Endpoint, "sample_rate", tcfg.SampleRate)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}, nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// watchPath returns the file to watch for live reload, or "" when the
// configuration came from defaults only.
func watchPath(source string) string {
	if source == "defaults" {
		return ""
	}
	return source
}
