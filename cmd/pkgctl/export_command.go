package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"learnhub/pkg/models"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the package ledger as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.Packages.All(cmd.Context())
			if err != nil {
				return err
			}

			if outPath == "" || outPath == "-" {
				return writePackagesCSV(cmd.OutOrStdout(), items)
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return err
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := writePackagesCSV(f, items); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d packages to %s\n", len(items), outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "Output CSV path, - for stdout")
	return cmd
}

func writePackagesCSV(out io.Writer, items []models.Package) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"id", "slug", "title", "declared_type", "storage_path", "cover_image_path", "subject_area_id", "tag_ids", "created_at"}); err != nil {
		return err
	}

	for _, p := range items {
		subject := ""
		if p.SubjectAreaID != nil {
			subject = strconv.FormatInt(*p.SubjectAreaID, 10)
		}
		tags := make([]string, len(p.TagIDs))
		for i, id := range p.TagIDs {
			tags[i] = strconv.FormatInt(id, 10)
		}

		if err := w.Write([]string{
			strconv.FormatInt(p.ID, 10),
			p.Slug,
			p.Title,
			p.DeclaredType,
			p.StoragePath,
			p.CoverImagePath,
			subject,
			strings.Join(tags, ";"),
			p.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
