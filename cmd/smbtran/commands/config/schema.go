package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/smbtran/pkg/config"
)

func newSchemaCmd() *cobra.Command {
	var schemaOutput string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Generate JSON schema for configuration",
		Long: `Generate a JSON schema for the smbtran configuration file.

The schema can be used for:
  - IDE autocompletion (VS Code, IntelliJ, etc.)
  - Configuration file validation

Examples:
  smbtran config schema
  smbtran config schema --output config.schema.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaJSON, err := json.MarshalIndent(config.Schema(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}

			if schemaOutput != "" {
				if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
					return fmt.Errorf("failed to write schema file: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "JSON schema written to %s\n", schemaOutput)
				return nil
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(schemaJSON))
			return nil
		},
	}
	cmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Output file (default: stdout)")
	return cmd
}
