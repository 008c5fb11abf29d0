package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupReport is the outcome of a best-effort cleanup sequence. A failed
// step is recorded and the sequence moves on.
type CleanupReport struct {
	Removed []string       `json:"removed"`
	Skipped []string       `json:"skipped,omitempty"`
	Errors  []CleanupError `json:"errors,omitempty"`
}

// CleanupError pairs a cleanup step with its error.
type CleanupError struct {
	Step  string `json:"step"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error"`
}

func (r *CleanupReport) OK() bool { return len(r.Errors) == 0 }

func (r *CleanupReport) removed(p string) { r.Removed = append(r.Removed, p) }

func (r *CleanupReport) skipped(step string) { r.Skipped = append(r.Skipped, step) }

func (r *CleanupReport) failed(step, p string, err error) {
	r.Errors = append(r.Errors, CleanupError{Step: step, Path: p, Error: err.Error()})
}

// CleanupAction is one independent step of a cleanup sequence.
type CleanupAction struct {
	Name string
	Run  func(ctx context.Context, r *CleanupReport) error
}

// RunCleanup runs every action in order. Action errors and panics are
// recorded in the report and never stop the remaining actions.
func (s *Store) RunCleanup(ctx context.Context, actions []CleanupAction) CleanupReport {
	var report CleanupReport
	for _, a := range actions {
		if err := runAction(ctx, a, &report); err != nil {
			report.failed(a.Name, "", err)
			s.Log.Warn("cleanup step failed",
				"step", a.Name,
				"error", err,
				"impact", "disk space not reclaimed",
			)
		}
	}
	return report
}

func runAction(ctx context.Context, a CleanupAction, r *CleanupReport) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("cleanup step panicked")
		}
	}()
	return a.Run(ctx, r)
}

// TreeCleanup removes the package directory resolved for key.
func (s *Store) TreeCleanup(key string, owned OwnedFunc) CleanupAction {
	return CleanupAction{
		Name: "tree",
		Run: func(_ context.Context, r *CleanupReport) error {
			m, err := s.ResolveDir(key, owned)
			if errors.Is(err, ErrDirNotFound) {
				r.skipped("tree: no directory for " + key)
				return nil
			}
			if err != nil {
				return err
			}
			if err := s.RemoveTree(m.Dir); err != nil {
				return err
			}
			r.removed(m.Dir)
			return nil
		},
	}
}

// LegacyCoverCleanup removes a cover kept in the legacy images directory.
func (s *Store) LegacyCoverCleanup(coverPath string) CleanupAction {
	return CleanupAction{
		Name: "legacy_cover",
		Run: func(_ context.Context, r *CleanupReport) error {
			if coverPath == "" || s.IsTreeCover(coverPath) {
				r.skipped("legacy_cover: none")
				return nil
			}
			removed, err := s.RemoveLegacyCover(coverPath)
			if err != nil {
				return err
			}
			if removed {
				r.removed(coverPath)
			}
			return nil
		},
	}
}

// StagingCleanup removes staging artifacts left behind for slug or id. Each
// artifact is attempted even if an earlier one fails.
func (s *Store) StagingCleanup(slug string, id int64) CleanupAction {
	return CleanupAction{
		Name: "staging",
		Run: func(_ context.Context, r *CleanupReport) error {
			paths, err := s.StagingArtifacts(slug, id)
			if err != nil {
				return err
			}
			for _, p := range paths {
				if err := os.RemoveAll(p); err != nil {
					r.failed("staging", p, err)
					continue
				}
				r.removed(p)
			}
			return nil
		},
	}
}

// CleanStale removes staging entries older than maxAge.
func (s *Store) CleanStale(ctx context.Context, maxAge time.Duration) CleanupReport {
	var report CleanupReport

	stagingDir := strings.TrimSpace(s.StagingDir)
	if stagingDir == "" {
		return report
	}
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			report.failed("staging_stale", stagingDir, err)
		}
		return report
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.Name() == janitorLockName {
			continue
		}
		p := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			report.failed("staging_stale", p, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			report.failed("staging_stale", p, err)
			s.Log.Warn("failed to remove stale staging entry",
				"path", p,
				"error", err,
				"hint", "check staging_dir permissions",
			)
			continue
		}
		report.removed(p)
		s.Log.Info("removed stale staging entry", "path", p, "age", time.Since(info.ModTime()).String())
	}
	return report
}

// DirInfo contains metadata about a package directory.
type DirInfo struct {
	Name        string
	Path        string
	ModTime     time.Time
	Size        int64
	HasManifest bool
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
