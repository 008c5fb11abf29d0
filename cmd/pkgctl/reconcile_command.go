package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"learnhub/internal/packages"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var strict bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare ledger rows with package directories",
		Long: "Lists ledger rows whose directory is missing or only found by fuzzy match,\n" +
			"and directories no ledger row claims. Nothing is changed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Packages.Reconcile(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReconcile(cmd, report)
			}

			problems := report.Count(packages.StatusMissing) + report.Count(packages.StatusOrphan)
			if strict && problems > 0 {
				return fmt.Errorf("%d ledger/directory mismatches", problems)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when rows or directories are unmatched")
	return cmd
}

func printReconcile(cmd *cobra.Command, report *packages.ReconcileReport) {
	out := cmd.OutOrStdout()
	if len(report.Entries) == 0 {
		fmt.Fprintln(out, "No packages and no directories.")
		return
	}

	rows := make([][]string, 0, len(report.Entries))
	for _, e := range report.Entries {
		id := "-"
		if e.PackageID > 0 {
			id = strconv.FormatInt(e.PackageID, 10)
		}
		size := "-"
		if e.Dir != "" {
			size = humanize.IBytes(uint64(e.Size))
		}
		manifest := "no"
		if e.HasManifest {
			manifest = "yes"
		}
		rows = append(rows, []string{e.Status, id, orDash(e.Slug), orDash(e.Dir), size, manifest})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Status", "ID", "Slug", "Directory", "Size", "Manifest"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintf(out, "%d ok, %d fuzzy, %d missing, %d orphan\n",
		report.Count(packages.StatusOK),
		report.Count(packages.StatusFuzzy),
		report.Count(packages.StatusMissing),
		report.Count(packages.StatusOrphan),
	)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
