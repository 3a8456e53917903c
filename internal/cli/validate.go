package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without starting the function",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration valid")
			fmt.Fprintf(out, "  function: /%s\n", cfg.Function.Name)
			fmt.Fprintf(out, "  project:  %s\n", cfg.RemoteConfig.ProjectID)
			fmt.Fprintf(out, "  service:  %s (emulated=%t)\n", cfg.RemoteConfig.BaseURL, cfg.RemoteConfig.Emulated())
			return nil
		},
	}
}
