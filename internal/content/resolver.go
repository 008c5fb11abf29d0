package content

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"learnhub/internal/apperr"
	"learnhub/internal/storage"
	"learnhub/pkg/logger"
	"learnhub/pkg/models"
)

// Finder looks packages up in the ledger. *packages.Service implements it.
type Finder interface {
	Lookup(ctx context.Context, ref string) (*models.Package, error)
	OwnedByOthers(ctx context.Context, id int64) storage.OwnedFunc
}

// Target is a validated file location inside a package.
type Target struct {
	Package *models.Package
	Dir     string // package directory, empty for legacy covers
	Rel     string // slash-separated path inside Dir
	Path    string // absolute path to serve
	Fuzzy   bool
}

type Resolver struct {
	Packages     Finder
	Store        *storage.Store
	ManifestName string
	Log          *logger.Logger
}

func NewResolver(finder Finder, store *storage.Store, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{Packages: finder, Store: store, ManifestName: store.ManifestName, Log: log}
}

// Resolve maps a package reference and a requested path to a file inside
// the package's directory. A missing package is PackageNotFound; a package
// whose directory cannot be found is AssetNotFound.
func (r *Resolver) Resolve(ctx context.Context, ref, rawPath string) (*Target, error) {
	p, err := r.Packages.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	rel, err := NormalizePath(rawPath, r.ManifestName, ref, p.Slug, p.StorageKey())
	if err != nil {
		return nil, err
	}

	m, err := r.Store.ResolveDir(p.StorageKey(), r.Packages.OwnedByOthers(ctx, p.ID))
	if errors.Is(err, storage.ErrDirNotFound) {
		return nil, apperr.Errorf(apperr.AssetNotFound, "resolve package dir", "package %q has no content directory", p.Slug)
	}
	if err != nil {
		return nil, err
	}

	target, err := within(m.Dir, rel)
	if err != nil {
		return nil, err
	}
	return &Target{Package: p, Dir: m.Dir, Rel: rel, Path: target, Fuzzy: m.Fuzzy}, nil
}

// ResolveCover finds a package's cover under either convention: a path
// inside the package tree, or a file name in the legacy images directory.
func (r *Resolver) ResolveCover(ctx context.Context, ref string) (*Target, error) {
	p, err := r.Packages.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p.CoverImagePath == "" {
		return nil, apperr.Errorf(apperr.AssetNotFound, "resolve cover", "package %q has no cover", p.Slug)
	}

	if r.Store.IsTreeCover(p.CoverImagePath) {
		return r.Resolve(ctx, ref, p.CoverImagePath)
	}
	legacy, err := r.Store.LegacyCoverPath(p.CoverImagePath)
	if err != nil {
		return nil, err
	}
	return &Target{Package: p, Rel: p.CoverImagePath, Path: legacy}, nil
}

// NormalizePath turns whatever a player asked for into a clean path
// relative to the package directory. Full URLs lose their scheme, host,
// query and fragment; the file routes of any of keys are stripped; an empty
// result means the manifest. A bare "<key>/" prefix is kept, since a
// package may hold a directory named like its own slug.
func NormalizePath(raw, manifestName string, keys ...string) (string, error) {
	p := raw
	if strings.Contains(p, "://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", apperr.New(apperr.PathTraversalRejected, "normalize path", err)
		}
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	if strings.ContainsRune(p, 0) {
		return "", apperr.Errorf(apperr.PathTraversalRejected, "normalize path", "path contains NUL")
	}
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimLeft(p, "/")
	p = stripRoutePrefix(p, keys)
	p = strings.TrimRight(p, "/")

	if p == "" {
		return manifestName, nil
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", apperr.Errorf(apperr.PathTraversalRejected, "normalize path", "path %q leaves the package", raw)
		}
	}
	clean := path.Clean(p)
	if clean == "." {
		return manifestName, nil
	}
	return clean, nil
}

func stripRoutePrefix(p string, keys []string) string {
	for _, k := range keys {
		if k == "" {
			continue
		}
		for _, prefix := range []string{"api/packages/" + k + "/files/", "packages/" + k + "/files/"} {
			if strings.HasPrefix(p, prefix) {
				return p[len(prefix):]
			}
		}
	}
	return p
}

// within joins rel onto dir and checks the result stays inside dir, both
// lexically and, when the file exists, after resolving symlinks.
func within(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	if !inside(dir, target) {
		return "", apperr.Errorf(apperr.PathTraversalRejected, "resolve path", "%q leaves the package", rel)
	}

	realTarget, err := filepath.EvalSymlinks(target)
	if errors.Is(err, fs.ErrNotExist) {
		return target, nil
	}
	if err != nil {
		return "", apperr.New(apperr.AssetNotFound, "resolve path", err)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", apperr.New(apperr.AssetNotFound, "resolve path", err)
	}
	if !inside(realDir, realTarget) {
		return "", apperr.Errorf(apperr.PathTraversalRejected, "resolve path", "%q links outside the package", rel)
	}
	return target, nil
}

func inside(dir, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && !filepath.IsAbs(rel)
}
