package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/smbtran/internal/cli/output"
	"github.com/marmos91/smbtran/pkg/config"
	"github.com/marmos91/smbtran/pkg/transport/nbt"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the smbtran configuration file.

Checks for syntax errors, unknown transport families or length variants, and
out-of-range values.

Examples:
  smbtran config validate
  smbtran config validate --config /etc/smbtran/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			displayPath := configPath
			if displayPath == "" {
				displayPath = config.GetDefaultConfigPath()
			}

			var warnings []string
			if cfg.Session.Remote == "" {
				warnings = append(warnings, "session.remote not set - 'smbtran ping' needs an address argument")
			}
			if cfg.Transport.Timeout == 0 {
				warnings = append(warnings, "transport.timeout is 0 - operations can block forever")
			}
			variant, _ := nbt.ParseLengthVariant(cfg.Transport.NBT.Variant)
			if cfg.Transport.SendSize.Int() > variant.MaxLength() {
				warnings = append(warnings, fmt.Sprintf("transport.send_size %s exceeds the %s maximum and will be clamped",
					cfg.Transport.SendSize, variant))
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
			_, _ = fmt.Fprintln(out, "Validation: OK")

			if len(warnings) > 0 {
				_, _ = fmt.Fprintln(out, "\nWarnings:")
				for _, w := range warnings {
					_, _ = fmt.Fprintf(out, "  - %s\n", w)
				}
			}

			_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
			return output.PrintKeyValues(out, output.KeyValues{
				{"Transport", cfg.Transport.Family},
				{"Length variant", cfg.Transport.NBT.Variant},
				{"Timeout", cfg.Transport.Timeout.String()},
				{"Reconnect", fmt.Sprint(cfg.Session.Reconnect.Enabled)},
				{"Responder", cfg.Responder.ListenAddress},
				{"Log level", cfg.Logging.Level},
			})
		},
	}
}
