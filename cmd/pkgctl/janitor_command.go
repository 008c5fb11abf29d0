package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"learnhub/internal/storage"
)

func newJanitorCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Remove stale staging uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if maxAge <= 0 {
				maxAge = cfg.Storage.StagingMaxAge()
			}

			store := storage.New(cfg.Storage, ctx.logger())
			report, err := store.SweepStaging(cmd.Context(), maxAge)
			if errors.Is(err, storage.ErrJanitorBusy) {
				fmt.Fprintln(cmd.OutOrStdout(), "Another janitor is running; nothing done.")
				return nil
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d staging entries older than %s\n", len(report.Removed), maxAge)
			for _, p := range report.Removed {
				fmt.Fprintf(out, "  %s\n", p)
			}
			for _, e := range report.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %s\n", e.Path, e.Error)
			}
			if !report.OK() {
				return fmt.Errorf("%d staging entries could not be removed", len(report.Errors))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Age threshold (default storage.staging_max_age_hours)")
	return cmd
}
