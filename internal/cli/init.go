package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfigYAML = `# Configuration for the remote config update function host.
version: ""
logLevel: info

http:
  port: 8080
  shutdownTimeout: 15s

function:
  name: testFunctionRemoteConfigUpdate

remoteConfig:
  projectID: demo-project
  # Point at an emulator to run without credentials.
  baseURL: https://firebaseremoteconfig.googleapis.com
  credentialsFile: ""
  timeout: 30s

readiness:
  timeout: 2s
  upstreams: []

auth:
  secret: ""
  audiences: []

cors:
  allowedOrigins: []

rateLimit:
  window: 60s
  max: 120

metrics:
  enabled: true
`

// NewInitCommand creates the init command.
func NewInitCommand(_ *RootOptions) *cobra.Command {
	var (
		outputPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a config skeleton",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(outputPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outputPath)
				}
			}

			if err := os.WriteFile(outputPath, []byte(sampleConfigYAML), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "path", "p", "rcfn.yaml", "destination path for generated config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing file")

	return cmd
}
