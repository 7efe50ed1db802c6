// Package commands implements the smbtran CLI.
package commands

import (
	"github.com/spf13/cobra"

	configcmd "github.com/marmos91/smbtran/cmd/smbtran/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "smbtran",
		Short: "smbtran - SMB transport over NetBIOS sessions",
		Long: `smbtran exercises the SMB transport layer: it opens NetBIOS-over-TCP
sessions to SMB peers, runs an echo responder for testing, and manages the
shared configuration file.

Use "smbtran [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (default: $XDG_CONFIG_HOME/smbtran/config.yaml)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newTransportsCmd())
	root.AddCommand(newPingCmd())
	root.AddCommand(newEchoCmd())
	root.AddCommand(configcmd.NewCmd())

	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// Execute runs the CLI. This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}
