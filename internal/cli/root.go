// Package cli implements the rcfn command tree.
package cli

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/theroutercompany/rcfunctions/pkg/config"
	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
}

// NewRootCommand creates the root command for the rcfn CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rcfn",
		Short: "Host and exercise the remote config update function",
		Long: `rcfn hosts testFunctionRemoteConfigUpdate behind the HTTPS callable protocol,
runs one-off invocations against a project or emulator, and validates configuration.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.EnvFile == "" {
				return nil
			}
			if err := godotenv.Load(opts.EnvFile); err != nil {
				return fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file applied to the environment before config resolution")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInvokeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewOpenAPICommand(opts))

	return cmd
}

func (o *RootOptions) configOptions() []config.Option {
	var opts []config.Option
	if o.ConfigPath != "" {
		opts = append(opts, config.WithPath(o.ConfigPath))
	}
	return opts
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configOptions()...)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) pkglog.Logger {
	logger, err := pkglog.New(cfg.LogLevel)
	if err != nil {
		return pkglog.Shared()
	}
	return logger
}
