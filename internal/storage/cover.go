package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"learnhub/internal/apperr"
)

var coverExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true,
}

// CoverExt picks the extension for an uploaded cover from its file name,
// falling back to the sniffed content type.
func CoverExt(filename string, head []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if coverExts[ext] {
		return ext, nil
	}
	if len(head) > 0 {
		if sniffed := mimetype.Detect(head).Extension(); coverExts[sniffed] {
			return sniffed, nil
		}
	}
	return "", apperr.Errorf(apperr.InvalidInput, "cover", "cover image must be jpg, png, gif, webp or svg")
}

// IsTreeCover reports whether a stored cover path points inside the package
// tree rather than at the legacy shared images directory.
func (s *Store) IsTreeCover(coverPath string) bool {
	p := strings.TrimPrefix(filepath.ToSlash(coverPath), "/")
	return strings.HasPrefix(p, s.CoverSubdir+"/")
}

// WriteCover stores an uploaded cover as <dir>/<CoverSubdir>/cover<ext> and
// returns the tree-relative path. Covers with other extensions are left in
// place; PruneCovers removes them once the new path is committed.
func (s *Store) WriteCover(dir, filename string, r io.Reader) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", apperr.New(apperr.InvalidInput, "read cover", err)
	}
	head = head[:n]
	if n == 0 {
		return "", apperr.Errorf(apperr.InvalidInput, "cover", "cover image is empty")
	}

	ext, err := CoverExt(filename, head)
	if err != nil {
		return "", err
	}

	coverDir := filepath.Join(dir, filepath.FromSlash(s.CoverSubdir))
	if err := os.MkdirAll(coverDir, 0o755); err != nil {
		return "", apperr.New(apperr.StorageWriteFailed, "create cover dir", err)
	}

	tmp := filepath.Join(coverDir, ".cover-"+uuid.NewString()+".tmp")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperr.New(apperr.StorageWriteFailed, "create cover", err)
	}
	_, err = io.Copy(out, io.MultiReader(bytes.NewReader(head), r))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", apperr.New(apperr.StorageWriteFailed, "write cover", err)
	}

	final := filepath.Join(coverDir, "cover"+ext)
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", apperr.New(apperr.StorageWriteFailed, "install cover", err)
	}
	return path.Join(s.CoverSubdir, "cover"+ext), nil
}

// PruneCovers removes every cover.* under dir except keepRel.
func (s *Store) PruneCovers(dir, keepRel string) error {
	coverDir := filepath.Join(dir, filepath.FromSlash(s.CoverSubdir))
	return s.removeOtherCovers(coverDir, filepath.Ext(keepRel))
}

// DiscardCover removes a cover written by WriteCover that was never
// committed.
func (s *Store) DiscardCover(dir, rel string) error {
	if !s.IsTreeCover(rel) || !strings.HasPrefix(path.Base(rel), "cover.") {
		return nil
	}
	target := filepath.Join(dir, filepath.FromSlash(rel))
	if err := s.within(dir, target); err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) removeOtherCovers(coverDir, keepExt string) error {
	matches, err := filepath.Glob(filepath.Join(coverDir, "cover.*"))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if filepath.Ext(m) == keepExt {
			continue
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LegacyCoverPath resolves a legacy cover path against LegacyImagesDir.
func (s *Store) LegacyCoverPath(coverPath string) (string, error) {
	if s.LegacyImagesDir == "" {
		return "", fmt.Errorf("legacy images dir not configured")
	}
	clean := path.Clean("/" + filepath.ToSlash(coverPath))
	if clean == "/" {
		return "", apperr.Errorf(apperr.PathTraversalRejected, "legacy cover", "empty cover path")
	}
	target := filepath.Join(s.LegacyImagesDir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if err := s.within(s.LegacyImagesDir, target); err != nil {
		return "", err
	}
	return target, nil
}

// RemoveLegacyCover deletes a cover stored under the legacy convention. Tree
// covers and missing files are ignored.
func (s *Store) RemoveLegacyCover(coverPath string) (bool, error) {
	if coverPath == "" || s.IsTreeCover(coverPath) {
		return false, nil
	}
	p, err := s.LegacyCoverPath(coverPath)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
