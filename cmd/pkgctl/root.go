package main

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"learnhub/internal/app"
	"learnhub/pkg/logger"
	"learnhub/pkg/utils"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     utils.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (utils.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			path = os.Getenv("LEARNHUB_CONFIG")
		}
		c.config, c.configErr = utils.LoadFrom(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *logger.Logger {
	if c.verbose == nil || !*c.verbose {
		return logger.Nop()
	}
	lg, err := logger.New("dev")
	if err != nil {
		return logger.Nop()
	}
	return lg
}

// openApp wires the service against the configured database and store. The
// caller closes it.
func (c *commandContext) openApp() (*app.App, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, c.logger())
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbose bool
	ctx := &commandContext{configFlag: &configFlag, verbose: &verbose}

	rootCmd := &cobra.Command{
		Use:           "pkgctl",
		Short:         "Operate the learnhub package store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $LEARNHUB_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newReconcileCommand(ctx))
	rootCmd.AddCommand(newJanitorCommand(ctx))
	rootCmd.AddCommand(newAdminCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))

	return rootCmd
}
