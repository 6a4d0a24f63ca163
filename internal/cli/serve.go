package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnkit/internal/config"
	"github.com/YuminosukeSato/churnkit/internal/server"
	"github.com/YuminosukeSato/churnkit/pkg/log"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a trained artifact over HTTP",
		Long: `Start the churnkit HTTP server: the JSON prediction API under
/api/v1, the HTML scoring form, Prometheus metrics and health checks.

Settings come from the config file (--config, $` + config.PathEnvVar + `, or the
default locations ` + strings.Join(config.DefaultPaths, ", ") + `) and from
` + config.EnvPrefix + `-prefixed environment variables. --log-level and --log-format
override the configured logging when set explicitly.

Example:
  churnkit serve --config churnkit.yaml
  CHURNKIT_SERVER_PORT=9090 churnkit serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = opts.LogLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Logging.Format = opts.LogFormat
	}
	log.Init(cfg.Logging.LogConfig())

	srv, err := server.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "starting server", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			logger := log.Component("cli")
			logger.Warn().Err(closeErr).Msg("closing server resources")
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (Ctrl-C to stop)\n", cfg.Server.Addr())
	if err := srv.Run(cmd.Context()); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	return nil
}
