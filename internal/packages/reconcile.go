package packages

import (
	"context"
	"errors"
	"sort"

	"learnhub/internal/storage"
	"learnhub/pkg/models"
)

// Reconcile statuses.
const (
	StatusOK      = "ok"
	StatusFuzzy   = "fuzzy"
	StatusMissing = "missing"
	StatusOrphan  = "orphan"
)

// ReconcileEntry pairs a ledger row with the directory it resolves to. Orphan
// entries are directories no row resolves to and have no PackageID.
type ReconcileEntry struct {
	PackageID   int64  `json:"package_id,omitempty"`
	Slug        string `json:"slug,omitempty"`
	Dir         string `json:"dir,omitempty"`
	Status      string `json:"status"`
	Size        int64  `json:"size"`
	HasManifest bool   `json:"has_manifest"`
}

type ReconcileReport struct {
	Entries []ReconcileEntry `json:"entries"`
}

func (r ReconcileReport) Count(status string) int {
	n := 0
	for _, e := range r.Entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

// Reconcile walks every ledger row and every package directory and reports
// rows without a directory, rows found only by fuzzy match, and directories
// no row claims. It changes nothing.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	dirs, err := s.Store.ListDirs()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]storage.DirInfo, len(dirs))
	for _, d := range dirs {
		byName[d.Name] = d
	}

	rows, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := s.Ledger.StorageKeys(ctx)
	if err != nil {
		return nil, err
	}
	staged, err := s.Store.StagedNames()
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	claimed := make(map[string]bool)
	for _, p := range rows {
		entry := ReconcileEntry{PackageID: p.ID, Slug: p.Slug}
		m, err := s.Store.ResolveDir(p.StorageKey(), ownedFilter(keys, staged, p.ID))
		switch {
		case errors.Is(err, storage.ErrDirNotFound):
			entry.Status = StatusMissing
		case err != nil:
			return nil, err
		default:
			entry.Dir = m.Name
			entry.Status = StatusOK
			if m.Fuzzy {
				entry.Status = StatusFuzzy
			}
			claimed[m.Name] = true
			if d, ok := byName[m.Name]; ok {
				entry.Size = d.Size
				entry.HasManifest = d.HasManifest
			}
		}
		report.Entries = append(report.Entries, entry)
	}

	for _, d := range dirs {
		if claimed[d.Name] {
			continue
		}
		report.Entries = append(report.Entries, ReconcileEntry{
			Dir:         d.Name,
			Status:      StatusOrphan,
			Size:        d.Size,
			HasManifest: d.HasManifest,
		})
	}

	sort.SliceStable(report.Entries, func(i, j int) bool {
		a, b := report.Entries[i], report.Entries[j]
		if a.Status != b.Status {
			return statusRank(a.Status) < statusRank(b.Status)
		}
		return a.Slug+a.Dir < b.Slug+b.Dir
	})
	return report, nil
}

func statusRank(status string) int {
	switch status {
	case StatusMissing:
		return 0
	case StatusOrphan:
		return 1
	case StatusFuzzy:
		return 2
	default:
		return 3
	}
}

// All returns every ledger row, newest first.
func (s *Service) All(ctx context.Context) ([]models.Package, error) {
	var out []models.Package
	q := ListQuery{Limit: maxListLimit}
	for {
		page, err := s.Ledger.List(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < q.Limit {
			return out, nil
		}
		q.Offset += len(page)
	}
}
