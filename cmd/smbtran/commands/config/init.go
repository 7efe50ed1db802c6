package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/smbtran/pkg/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with every default",
		Long: `Write a configuration file containing every option at its default.

Examples:
  # Create $XDG_CONFIG_HOME/smbtran/config.yaml
  smbtran config init

  # Create a file elsewhere, replacing an existing one
  smbtran config init --config ./smbtran.yaml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.GetDefaultConfigPath()
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
			}

			if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
			_, _ = fmt.Fprintln(out, "\nNext steps:")
			_, _ = fmt.Fprintln(out, "  1. Set session.remote or pass an address to 'smbtran ping'")
			_, _ = fmt.Fprintln(out, "  2. Check the file with: smbtran config validate")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}
