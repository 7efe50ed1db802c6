package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/smbtran/internal/logger"
	"github.com/marmos91/smbtran/internal/telemetry"
	"github.com/marmos91/smbtran/pkg/config"
	"github.com/marmos91/smbtran/pkg/metrics"
	"github.com/marmos91/smbtran/pkg/transport/nbt"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/smbtran/pkg/metrics/prometheus"
)

type echoOptions struct {
	listen  string
	names   []string
	metrics string
	noWatch bool
}

func newEchoCmd() *cobra.Command {
	o := &echoOptions{}

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Run a NetBIOS session responder that echoes messages",
		Long: `Run an NBT session responder. It answers session requests for the
configured names and sends every session message back unchanged.

Prometheus metrics and /health are served when metrics.enabled is set or
--metrics is given. Logging changes in the config file apply without a
restart.

Examples:
  # Listen on an unprivileged port
  smbtran echo --listen 127.0.0.1:1139

  # Serve only FILESRV, with metrics on :9090
  smbtran echo --listen :1139 --name FILESRV --metrics :9090

  # Debug logging via environment
  SMBTRAN_LOGGING_LEVEL=DEBUG smbtran echo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEcho(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.listen, "listen", "l", "", "Listen address (default: responder.listen_address)")
	f.StringSliceVar(&o.names, "name", nil, "Called name to serve; repeatable (default: responder.names)")
	f.StringVar(&o.metrics, "metrics", "", "Serve metrics on this address (default: metrics.listen_address when enabled)")
	f.BoolVar(&o.noWatch, "no-watch", false, "Do not reload logging settings when the config file changes")
	return cmd
}

func runEcho(cmd *cobra.Command, o *echoOptions) error {
	cfg, source, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if o.listen != "" {
		cfg.Responder.ListenAddress = o.listen
	}
	if len(o.names) > 0 {
		cfg.Responder.Names = o.names
	}
	if o.metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = o.metrics
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	logger.Info("Configuration loaded", "source", source)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	pcfg := cfg.Profiling
	if pcfg.ServiceVersion == "" || pcfg.ServiceVersion == "dev" {
		pcfg.ServiceVersion = Version
	}
	stopProfiling, err := telemetry.InitProfiling(pcfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := stopProfiling(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()
	if pcfg.Enabled {
		logger.Info("Profiling enabled", "endpoint", pcfg.Endpoint, "profile_types", pcfg.ProfileTypes)
	}

	// Metrics must be initialized before the responder asks for recorders.
	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.InitRegistry()
	}

	rc, err := cfg.ResponderConfig(metrics.NewResponderMetrics())
	if err != nil {
		return err
	}
	responder := nbt.NewResponder(rc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return responder.Serve(gctx) })

	if reg != nil {
		srv := metrics.NewServer(cfg.Metrics.ListenAddress, reg, responderHealth(responder))
		g.Go(func() error { return srv.Serve(gctx) })
	}

	if path := watchPath(source); path != "" && !o.noWatch {
		g.Go(func() error {
			return config.Watch(gctx, path, applyReload, func(err error) {
				logger.Warn("Configuration reload failed", logger.KeyError, err)
			})
		})
	}

	select {
	case <-responder.Ready():
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Echo responder listening on %s (variant %s)\n",
			responder.Addr(), rc.Variant)
		logger.Info("Responder is running. Press Ctrl+C to stop.")
	case <-gctx.Done():
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Responder stopped")
	return nil
}

// applyReload applies the settings that can change without a restart.
func applyReload(cfg *config.Config) {
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	logger.Info("Configuration reloaded", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
}

func responderHealth(r *nbt.Responder) metrics.HealthFunc {
	return func(ctx context.Context) error {
		select {
		case <-r.Ready():
			return nil
		default:
			return errors.New("responder is not listening")
		}
	}
}
