package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrDirNotFound means no directory matched a storage key, exactly or fuzzily.
var ErrDirNotFound = errors.New("package directory not found")

// Match is a resolved package directory.
type Match struct {
	Dir   string
	Name  string
	Fuzzy bool
}

// OwnedFunc reports whether a directory name belongs to some other package.
// Such directories are never returned as fuzzy matches.
type OwnedFunc func(name string) bool

// ResolveDir finds the directory for key: the exact name first, then the
// first sibling (in name order) whose normalized name starts with the key,
// then the first one containing it. The order makes repeated resolution of
// the same key return the same directory.
func (s *Store) ResolveDir(key string, owned OwnedFunc) (Match, error) {
	dir, err := s.PackageDir(key)
	if err != nil {
		return Match{}, err
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return Match{Dir: dir, Name: key}, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return Match{}, fmt.Errorf("stat %s: %w", dir, err)
	}

	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Match{}, ErrDirNotFound
		}
		return Match{}, fmt.Errorf("read store root: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || e.Name() == key {
			continue
		}
		if owned != nil && owned(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	want := normalizeName(key)
	for _, pass := range []func(string, string) bool{strings.HasPrefix, strings.Contains} {
		for _, name := range names {
			if pass(normalizeName(name), want) {
				s.Log.Info("package directory resolved by fuzzy match", "key", key, "dir", name)
				return Match{Dir: filepath.Join(s.Root, name), Name: name, Fuzzy: true}, nil
			}
		}
	}
	return Match{}, ErrDirNotFound
}

// ListDirs returns the names of every package directory under Root.
func (s *Store) ListDirs() ([]DirInfo, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(s.Root, entry.Name())
		size, _ := dirSize(dirPath)
		_, statErr := os.Stat(filepath.Join(dirPath, s.ManifestName))

		dirs = append(dirs, DirInfo{
			Name:        entry.Name(),
			Path:        dirPath,
			ModTime:     info.ModTime(),
			Size:        size,
			HasManifest: statErr == nil,
		})
	}
	return dirs, nil
}

func normalizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', ' ':
			return '-'
		}
		return r
	}, strings.ToLower(s))
}
