package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/theroutercompany/rcfunctions/pkg/config"
	pkglog "github.com/theroutercompany/rcfunctions/pkg/log"
	"github.com/theroutercompany/rcfunctions/pkg/runtime"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the function over HTTP",
		Long: `Serve hosts the callable at /<function name> alongside health, readiness,
metrics and OpenAPI routes. With --watch the config file is reloaded on change
and the host restarts with the new configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && rootOpts.ConfigPath == "" {
				return errors.New("--config is required when --watch is enabled")
			}

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var (
				reloadCh <-chan config.Config
				watchErr <-chan error
			)
			if watch {
				rc, ec, stop, err := watchConfig(ctx, rootOpts.ConfigPath, rootOpts.configOptions())
				if err != nil {
					return fmt.Errorf("watch config: %w", err)
				}
				defer stop()
				reloadCh, watchErr = rc, ec
			}

			return serve(ctx, cfg, reloadCh, watchErr)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "watch the config file for changes and restart")

	return cmd
}

// serve runs the runtime until ctx ends, rebuilding it for every config
// received on reloadCh. Watch errors are logged and do not stop serving.
func serve(ctx context.Context, cfg config.Config, reloadCh <-chan config.Config, watchErr <-chan error) error {
	for {
		logger := newLogger(cfg)
		rt, err := runtime.New(cfg, runtime.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("build runtime: %w", err)
		}

		runCtx, runCancel := context.WithCancel(ctx)
		runDone := make(chan error, 1)
		go func() {
			runDone <- rt.Run(runCtx)
		}()

		next, err := waitForRestart(ctx, runDone, reloadCh, watchErr, logger)
		runCancel()
		if err != nil || next == nil {
			return err
		}

		if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Infow("configuration reloaded", "function", next.Function.Name)
		cfg = *next
	}
}

func waitForRestart(ctx context.Context, runDone <-chan error, reloadCh <-chan config.Config, watchErr <-chan error, logger pkglog.Logger) (*config.Config, error) {
	for {
		select {
		case err := <-runDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, nil
		case cfg, ok := <-reloadCh:
			if !ok {
				reloadCh = nil
				continue
			}
			return &cfg, nil
		case err, ok := <-watchErr:
			if !ok {
				watchErr = nil
				continue
			}
			logger.Warnw("config watch error", "error", err)
		case <-ctx.Done():
			if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, nil
		}
	}
}
