// Package config implements configuration management subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// NewCmd builds the config subcommand.
func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long: `Manage smbtran configuration files.

Subcommands:
  init      Write a configuration file with every default
  show      Display the effective configuration
  validate  Validate a configuration file
  schema    Generate JSON schema for IDE/validation`,
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newSchemaCmd())
	return cmd
}
