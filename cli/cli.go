// Package cli implements the pageboard command-line interface: the relay
// server and a few headless client commands.
package cli

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/zlnvch/pageboard/config"
)

type rootOptions struct {
	verbose    bool
	configPath string
}

// Execute runs the pageboard CLI until ctx is done or the command returns.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "pageboard",
		Short:        "Pageboard is a shared multi-page drawing board",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := log.InfoLevel
			if opts.verbose {
				level = log.DebugLevel
			}
			logger := newLogger(os.Stderr, level)
			log.SetDefault(logger)
			cmd.SetContext(withLogger(cmd.Context(), logger))
		},
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a TOML config file")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newDrawCmd())
	root.AddCommand(newDiscoverCmd())

	return root
}

// loadConfig reads the config and applies its log level unless --verbose
// already asked for debug.
func (opts *rootOptions) loadConfig(ctx context.Context) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if !opts.verbose {
		loggerFromContext(ctx).SetLevel(parseLevel(cfg.Log.Level))
	}
	return cfg, nil
}
