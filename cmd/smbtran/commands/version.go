package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/marmos91/smbtran/internal/cli/output"
)

func newVersionCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(outputFormat)
			if err != nil {
				return err
			}
			return output.NewPrinter(cmd.OutOrStdout(), format).Print(output.KeyValues{
				{"Version", Version},
				{"Commit", Commit},
				{"Built", Date},
				{"Go", runtime.Version()},
				{"Platform", runtime.GOOS + "/" + runtime.GOARCH},
			})
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	return cmd
}
