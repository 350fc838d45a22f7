package main

import (
	"github.com/spf13/cobra"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
)

// cli carries state shared by every subcommand. Config is loaded lazily so
// that commands which only read a file work without a full environment.
type cli struct {
	logLevel string
	cfg      *config.Config
	log      *logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "salesctl",
		Short:        "Operate the notebook sales assistant offline",
		SilenceUsage: true,
	}
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		c.log = logger.NewWithOptions(c.logLevel, cmd.ErrOrStderr(), logger.Options{})
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newPatternsCmd(c),
		newKBCmd(c),
		newExtractCmd(c),
	)
	return root
}

// config loads and validates the environment once.
func (c *cli) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}
