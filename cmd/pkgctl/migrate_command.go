package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"learnhub/pkg/database"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(database.Config{
				Path:        cfg.Database.Path,
				BusyTimeout: cfg.Database.BusyTimeout(),
				JournalMode: cfg.Database.JournalMode,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.MigrateContext(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database ready: %s\n", cfg.Database.Path)
			return nil
		},
	}
}
