package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/config"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "forensight",
		Short:         "Multi-agent fraud-risk review of financial filings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (defaults to $CONFIG_PATH, then built-in defaults)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level to stderr")

	cmd.AddCommand(newAnalyzeCommand(opts))
	cmd.AddCommand(newRolesCommand())
	return cmd
}

// load reads configuration and builds a console logger on stderr.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.Observability.Logging.Format = "console"
	if o.verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
