package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"learnhub/internal/apperr"
	"learnhub/pkg/logger"
	"learnhub/pkg/utils"
)

// Store is the on-disk side of the package lifecycle: one directory per
// package under Root, a legacy shared images directory, and a staging area
// for uploads that are still being processed.
type Store struct {
	Root            string
	LegacyImagesDir string
	StagingDir      string
	ManifestName    string
	CoverSubdir     string
	Log             *logger.Logger
}

func New(cfg utils.StorageConfig, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		Root:            cfg.Root,
		LegacyImagesDir: cfg.LegacyImagesDir,
		StagingDir:      cfg.StagingDir,
		ManifestName:    cfg.ManifestName,
		CoverSubdir:     cfg.CoverSubdir,
		Log:             log,
	}
}

// Init creates the store's directories.
func (s *Store) Init() error {
	for _, dir := range []string{s.Root, s.StagingDir, s.LegacyImagesDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// PackageDir is the exact directory for a storage key. It does not check
// existence.
func (s *Store) PackageDir(key string) (string, error) {
	if !validName(key) {
		return "", apperr.Errorf(apperr.PathTraversalRejected, "package dir", "invalid storage key %q", key)
	}
	return filepath.Join(s.Root, key), nil
}

// SlugExists reports whether a top-level entry named slug exists, so the
// store can act as a slug.Checker.
func (s *Store) SlugExists(_ context.Context, slug string) (bool, error) {
	dir, err := s.PackageDir(slug)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(dir)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", dir, err)
	}
}

// Rename moves a package tree from one storage key to another.
func (s *Store) Rename(from, to string) (string, error) {
	src, err := s.PackageDir(from)
	if err != nil {
		return "", err
	}
	dst, err := s.PackageDir(to)
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, dst); err != nil {
		return "", apperr.New(apperr.StorageWriteFailed, "rename package dir", err)
	}
	return dst, nil
}

// RemoveTree deletes a package directory. A missing directory is not an
// error.
func (s *Store) RemoveTree(dir string) error {
	if err := s.within(s.Root, dir); err != nil {
		return err
	}
	if filepath.Clean(dir) == filepath.Clean(s.Root) {
		return apperr.Errorf(apperr.PathTraversalRejected, "remove tree", "refusing to remove the store root")
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// within checks that target is root or below it.
func (s *Store) within(root, target string) error {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return apperr.Errorf(apperr.PathTraversalRejected, "check path", "%s is outside %s", target, root)
	}
	return nil
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`+"\x00")
}
