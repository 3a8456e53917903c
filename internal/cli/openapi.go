package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theroutercompany/rcfunctions/internal/openapi"
)

// NewOpenAPICommand creates the openapi command.
func NewOpenAPICommand(rootOpts *RootOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Write the OpenAPI document for the hosted routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			svc := openapi.NewService(
				openapi.WithFunctionName(cfg.Function.Name),
				openapi.WithVersion(cfg.Version),
			)

			if outPath == "" {
				data, err := svc.Document(cmd.Context())
				if err != nil {
					return fmt.Errorf("build openapi document: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}

			if err := svc.WriteFile(cmd.Context(), outPath); err != nil {
				return fmt.Errorf("write openapi document: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OpenAPI document written to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "path to write the document (stdout when empty)")

	return cmd
}
