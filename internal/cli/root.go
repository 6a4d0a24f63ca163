// Package cli assembles the churnkit command tree. The modeling
// commands (train, evaluate, tune, predict) run the workflow against
// local files; serve starts the HTTP scoring server; version prints
// build information. Global flags select the config file and shape
// logging.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/churnkit/pkg/log"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// Allowed values for the global logging flags.
var (
	ValidLogLevels  = []string{"trace", "debug", "info", "warn", "error"}
	ValidLogFormats = []string{"console", "json"}
)

// NewRootCommand creates the root command for the churnkit CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "churnkit",
		Short: "Train, tune and serve telco churn models",
		Long: `churnkit runs the churn modeling workflow end to end: train and tune
classifiers on the canonical telco customer CSV, evaluate saved
artifacts against labeled data, score single customers, and serve a
trained artifact over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidLogLevels, opts.LogLevel) {
				return fmt.Errorf("invalid log level %q: must be one of %v", opts.LogLevel, ValidLogLevels)
			}
			if !slices.Contains(ValidLogFormats, opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, ValidLogFormats)
			}
			initLogging(opts)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: searched, see serve --help)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "console", "log output format (console|json)")

	// Add subcommands
	cmd.AddCommand(NewTrainCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewTuneCommand(opts))
	cmd.AddCommand(NewPredictCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// initLogging configures the global logger from the root flags alone.
// The serve command reconfigures it once the full config is loaded, so
// file output and other config-only settings apply there.
func initLogging(opts *RootOptions) {
	cfg := log.DefaultConfig()
	cfg.Level = opts.LogLevel
	cfg.Format = opts.LogFormat
	log.Init(cfg)
}
