package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub/internal/apperr"
	"learnhub/internal/storage"
	"learnhub/internal/testsupport"
	"learnhub/pkg/models"
)

type fakeFinder struct {
	pkgs []*models.Package
}

func (f *fakeFinder) Lookup(_ context.Context, ref string) (*models.Package, error) {
	for _, p := range f.pkgs {
		if p.Slug == ref || strconv.FormatInt(p.ID, 10) == ref {
			return p, nil
		}
	}
	return nil, apperr.Errorf(apperr.PackageNotFound, "lookup", "no package %q", ref)
}

func (f *fakeFinder) OwnedByOthers(_ context.Context, id int64) storage.OwnedFunc {
	return func(name string) bool {
		for _, p := range f.pkgs {
			if p.ID != id && (p.Slug == name || p.StorageKey() == name) {
				return true
			}
		}
		return false
	}
}

func newResolver(t *testing.T, pkgs ...*models.Package) (*Resolver, *storage.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := storage.New(cfg.Storage, nil)
	require.NoError(t, store.Init())
	return NewResolver(&fakeFinder{pkgs: pkgs}, store, nil), store
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "h5p.json"},
		{"/", "h5p.json"},
		{"content/content.json", "content/content.json"},
		{"/content/content.json/", "content/content.json"},
		{`content\images\photo.png`, "content/images/photo.png"},
		{"./content/./images/photo.png", "content/images/photo.png"},
		{"content/content.json?v=3#top", "content/content.json"},
		{"/packages/for-or-since/files/content/content.json", "content/content.json"},
		{"api/packages/7/files/h5p.json", "h5p.json"},
		{"https://cdn.example.org/api/packages/for-or-since/files/h5p.json?v=2", "h5p.json"},
		{"for-or-since/content/", "for-or-since/content"},
		{"for-or-since", "for-or-since"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizePath(tt.raw, "h5p.json", "7", "for-or-since")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePathRejectsTraversal(t *testing.T) {
	for _, raw := range []string{
		"../etc/passwd",
		"content/../../etc/passwd",
		`..\..\evil`,
		"/packages/for-or-since/files/../../../evil",
		"https://example.org/../../etc/passwd",
		"content/\x00.json",
	} {
		_, err := NormalizePath(raw, "h5p.json", "for-or-since")
		assert.True(t, errors.Is(err, apperr.PathTraversalRejected), raw)
	}
}

func TestResolveExact(t *testing.T) {
	p := &models.Package{ID: 1, Slug: "for-or-since", StoragePath: "for-or-since"}
	r, store := newResolver(t, p)
	testsupport.WriteFile(t, filepath.Join(store.Root, "for-or-since", "h5p.json"), "{}")

	tgt, err := r.Resolve(context.Background(), "for-or-since", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root, "for-or-since", "h5p.json"), tgt.Path)
	assert.False(t, tgt.Fuzzy)

	byID, err := r.Resolve(context.Background(), "1", "/h5p.json")
	require.NoError(t, err)
	assert.Equal(t, tgt.Path, byID.Path)
}

func TestResolveFuzzyIsStable(t *testing.T) {
	p := &models.Package{ID: 1, Slug: "for-or-since", StoragePath: "for-or-since"}
	other := &models.Package{ID: 2, Slug: "for-or-since-abc123", StoragePath: "for-or-since-abc123"}
	r, store := newResolver(t, p, other)
	testsupport.WriteFile(t, filepath.Join(store.Root, "for-or-since-abc123", "h5p.json"), "{}")
	testsupport.WriteFile(t, filepath.Join(store.Root, "For_Or_Since_old", "h5p.json"), "{}")

	first, err := r.Resolve(context.Background(), "for-or-since", "h5p.json")
	require.NoError(t, err)
	assert.True(t, first.Fuzzy)
	assert.Equal(t, filepath.Join(store.Root, "For_Or_Since_old", "h5p.json"), first.Path,
		"a directory owned by another package is never borrowed")

	second, err := r.Resolve(context.Background(), "for-or-since", "h5p.json")
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)
}

func TestResolveNotFoundKinds(t *testing.T) {
	p := &models.Package{ID: 1, Slug: "for-or-since"}
	r, _ := newResolver(t, p)

	_, err := r.Resolve(context.Background(), "nope", "h5p.json")
	assert.Equal(t, apperr.PackageNotFound, apperr.KindOf(err))

	_, err = r.Resolve(context.Background(), "for-or-since", "h5p.json")
	assert.Equal(t, apperr.AssetNotFound, apperr.KindOf(err), "ledger row without a directory")
}

func TestResolveRejectsTraversalAndSymlinkEscape(t *testing.T) {
	p := &models.Package{ID: 1, Slug: "pkg"}
	r, store := newResolver(t, p)
	dir := filepath.Join(store.Root, "pkg")
	testsupport.WriteFile(t, filepath.Join(dir, "h5p.json"), "{}")

	_, err := r.Resolve(context.Background(), "pkg", "../other/h5p.json")
	assert.Equal(t, apperr.PathTraversalRejected, apperr.KindOf(err))

	secret := filepath.Join(t.TempDir(), "secret.txt")
	testsupport.WriteFile(t, secret, "secret")
	require.NoError(t, os.Symlink(secret, filepath.Join(dir, "link.txt")))

	_, err = r.Resolve(context.Background(), "pkg", "link.txt")
	assert.Equal(t, apperr.PathTraversalRejected, apperr.KindOf(err))
}

func TestResolveCoverBothConventions(t *testing.T) {
	tree := &models.Package{ID: 1, Slug: "tree", CoverImagePath: "content/images/cover.png"}
	legacy := &models.Package{ID: 2, Slug: "legacy", CoverImagePath: "legacy.jpg"}
	none := &models.Package{ID: 3, Slug: "none"}
	r, store := newResolver(t, tree, legacy, none)
	testsupport.WriteFile(t, filepath.Join(store.Root, "tree", "content", "images", "cover.png"), "png")
	testsupport.WriteFile(t, filepath.Join(store.LegacyImagesDir, "legacy.jpg"), "jpg")

	tgt, err := r.ResolveCover(context.Background(), "tree")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root, "tree", "content", "images", "cover.png"), tgt.Path)

	tgt, err = r.ResolveCover(context.Background(), "legacy")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.LegacyImagesDir, "legacy.jpg"), tgt.Path)

	_, err = r.ResolveCover(context.Background(), "none")
	assert.Equal(t, apperr.AssetNotFound, apperr.KindOf(err))
}

func TestResolveSlugNamedLikeItsOwnDirectory(t *testing.T) {
	p := &models.Package{ID: 4, Slug: "content", StoragePath: "content", CoverImagePath: "content/images/cover.png"}
	r, store := newResolver(t, p)
	dir := filepath.Join(store.Root, "content")
	testsupport.WriteFile(t, filepath.Join(dir, "content", "content.json"), "{}")
	testsupport.WriteFile(t, filepath.Join(dir, "content", "images", "cover.png"), "png")

	tgt, err := r.Resolve(context.Background(), "content", "content/content.json")
	require.NoError(t, err)
	assert.Equal(t, "content/content.json", tgt.Rel)
	assert.FileExists(t, tgt.Path)

	tgt, err = r.Resolve(context.Background(), "content", "/packages/content/files/content/content.json")
	require.NoError(t, err)
	assert.Equal(t, "content/content.json", tgt.Rel)

	cover, err := r.ResolveCover(context.Background(), "content")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "content", "images", "cover.png"), cover.Path)
}
