package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/smbtran/internal/cli/output"
	"github.com/marmos91/smbtran/pkg/config"
)

func newShowCmd() *cobra.Command {
	var showOutput string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration: defaults, then the config file,
then SMBTRAN_* environment overrides.

By default outputs YAML format. Use --output to change format.

Examples:
  smbtran config show
  smbtran config show --output json
  SMBTRAN_TRANSPORT_TIMEOUT=5s smbtran config show`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			format, err := output.ParseFormat(showOutput)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if format == output.FormatJSON {
				return output.PrintJSON(cmd.OutOrStdout(), cfg)
			}
			return output.PrintYAML(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
	return cmd
}
