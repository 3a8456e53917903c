package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/theroutercompany/rcfunctions/internal/callable"
	"github.com/theroutercompany/rcfunctions/pkg/runtime"
)

// ErrRejected is returned when the invocation settles with an error envelope.
var ErrRejected = errors.New("invocation rejected")

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run one invocation and print the callable response",
		Example: `  rcfn invoke --data '{"foo":"bar"}'
  REMOTE_CONFIG_BASE_URL=http://127.0.0.1:9199 rcfn invoke`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(data)) {
				return errors.New("--data is not valid JSON")
			}

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			fn, err := runtime.NewFunction(cfg, runtime.WithLogger(newLogger(cfg)))
			if err != nil {
				return fmt.Errorf("build function: %w", err)
			}

			result, invokeErr := fn.Handler.Invoke(cmd.Context(), callable.Request{
				Data:   json.RawMessage(data),
				Header: http.Header{},
			})
			resp, status := callable.NewResponse(result, invokeErr)

			out, err := json.Marshal(resp)
			if err != nil {
				return fmt.Errorf("encode response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if resp.Error != nil {
				return fmt.Errorf("%w: %s (%d)", ErrRejected, resp.Error.Status, status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "null", "JSON payload sent as the callable data field")

	return cmd
}
