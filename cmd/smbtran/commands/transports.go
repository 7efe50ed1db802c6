package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/smbtran/internal/cli/output"
	"github.com/marmos91/smbtran/pkg/session"
)

type transportInfo struct {
	Family uint8  `json:"family" yaml:"family"`
	Name   string `json:"name" yaml:"name"`
}

func newTransportsCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "transports",
		Short: "List registered transport families",
		Long: `List the transport families a session can be opened over.

Examples:
  smbtran transports
  smbtran transports -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(outputFormat)
			if err != nil {
				return err
			}
			p := output.NewPrinter(cmd.OutOrStdout(), format)

			descs := session.DefaultRegistry().Descriptors()
			if format != output.FormatTable {
				infos := make([]transportInfo, 0, len(descs))
				for _, d := range descs {
					infos = append(infos, transportInfo{Family: uint8(d.Family), Name: d.Name})
				}
				return p.Print(infos)
			}

			table := output.NewTable("Family", "ID", "Name")
			for _, d := range descs {
				table.AddRow(d.Family.String(), strconv.Itoa(int(d.Family)), d.Name)
			}
			return p.Print(table)
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	return cmd
}
