package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"learnhub/internal/apperr"
)

// Staged files are named "<uuid>.zip" while anonymous, "<slug>.<uuid>.zip"
// once a slug is known, and "pkg-<id>.<uuid>.upload" for files staged on
// behalf of an existing package. Slugs never contain '.', so the prefix
// "<slug>." only ever matches artifacts of that one package.
const (
	stagingExt   = ".zip"
	uploadExt    = ".upload"
	idPrefixTmpl = "pkg-%d"
)

// PackagePrefix is the staging prefix for artifacts of package id.
func PackagePrefix(id int64) string {
	return fmt.Sprintf(idPrefixTmpl, id)
}

// StagedUpload is an uploaded archive copied into the staging area.
type StagedUpload struct {
	Path string
	Size int64
}

// Stage copies an uploaded archive into the staging area, refusing more than
// limit bytes when limit is positive.
func (s *Store) Stage(r io.Reader, limit int64) (*StagedUpload, error) {
	return s.stage(uuid.NewString()+stagingExt, r, limit)
}

// StageFor stages a file on behalf of an existing package.
func (s *Store) StageFor(id int64, r io.Reader, limit int64) (*StagedUpload, error) {
	return s.stage(PackagePrefix(id)+"."+uuid.NewString()+uploadExt, r, limit)
}

// Open reopens a staged file for reading.
func (up *StagedUpload) Open() (*os.File, error) {
	return os.Open(up.Path)
}

func (s *Store) stage(name string, r io.Reader, limit int64) (*StagedUpload, error) {
	if err := os.MkdirAll(s.StagingDir, 0o755); err != nil {
		return nil, apperr.New(apperr.StorageWriteFailed, "ensure staging dir", err)
	}
	p := filepath.Join(s.StagingDir, name)
	out, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, apperr.New(apperr.StorageWriteFailed, "create staging file", err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(p)
		return nil, apperr.New(apperr.StorageWriteFailed, "write staging file", err)
	}
	if limit > 0 && n > limit {
		_ = os.Remove(p)
		return nil, apperr.Errorf(apperr.PackageTooLarge, "stage upload", "upload exceeds %d bytes", limit)
	}
	return &StagedUpload{Path: p, Size: n}, nil
}

// TagStaged renames a staged upload so it carries the package's slug.
func (s *Store) TagStaged(up *StagedUpload, slug string) error {
	if up == nil {
		return nil
	}
	name := filepath.Base(up.Path)
	if i := strings.Index(name, "."); i >= 0 && strings.Count(name, ".") > 1 {
		name = name[i+1:]
	}
	tagged := filepath.Join(s.StagingDir, slug+"."+name)
	if err := os.Rename(up.Path, tagged); err != nil {
		return fmt.Errorf("tag staging file: %w", err)
	}
	up.Path = tagged
	return nil
}

// Discard removes a staged upload. Missing files are fine.
func (s *Store) Discard(up *StagedUpload) error {
	if up == nil {
		return nil
	}
	if err := os.Remove(up.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// StagingArtifacts lists staging entries that belong to the package with
// the given slug or id.
func (s *Store) StagingArtifacts(slug string, id int64) ([]string, error) {
	entries, err := os.ReadDir(s.StagingDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var prefixes []string
	if slug != "" {
		prefixes = append(prefixes, slug+".")
	}
	if id > 0 {
		prefixes = append(prefixes, PackagePrefix(id)+".")
	}

	var out []string
	for _, e := range entries {
		for _, p := range prefixes {
			if strings.HasPrefix(e.Name(), p) {
				out = append(out, filepath.Join(s.StagingDir, e.Name()))
				break
			}
		}
	}
	return out, nil
}

// StagedNames returns the slugs that tagged staging uploads are still
// carrying. A directory with one of these names belongs to a create that
// has not committed yet.
func (s *Store) StagedNames() (map[string]bool, error) {
	entries, err := os.ReadDir(s.StagingDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	names := make(map[string]bool)
	for _, e := range entries {
		name, _, ok := strings.Cut(e.Name(), ".")
		if !ok || name == "" {
			continue
		}
		names[name] = true
	}
	return names, nil
}
