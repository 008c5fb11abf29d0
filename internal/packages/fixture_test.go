package packages

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"learnhub/internal/archive"
	"learnhub/internal/feed"
	"learnhub/internal/storage"
	"learnhub/internal/testsupport"
	"learnhub/pkg/utils"
)

type recorder struct {
	mu     sync.Mutex
	events []feed.PackageEvent
}

func (r *recorder) Publish(ev feed.PackageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	cfg    utils.Config
	db     *sql.DB
	repo   *Repo
	store  *storage.Store
	svc    *Service
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	db := testsupport.NewDB(t, cfg)
	store := storage.New(cfg.Storage, nil)
	require.NoError(t, store.Init())

	repo := NewRepo(db)
	extractor := archive.NewExtractor(archive.Limits{
		MaxEntries: cfg.Storage.MaxEntries,
		MaxBytes:   cfg.Storage.MaxExtractedBytes(),
	}, cfg.Storage.ManifestName, nil)
	events := &recorder{}
	svc := NewService(repo, store, extractor, events, nil, cfg.Storage.MaxUploadBytes())
	svc.Slugs.Suffix = func() string { return "abc123" }

	return &fixture{cfg: cfg, db: db, repo: repo, store: store, svc: svc, events: events}
}

func newInput(t *testing.T, title string) CreateInput {
	t.Helper()
	return CreateInput{
		Title:   title,
		Archive: bytes.NewReader(testsupport.ZipBytes(t, testsupport.PackageEntries())),
	}
}

func (f *fixture) mustCreate(t *testing.T, title string) int64 {
	t.Helper()
	p, err := f.svc.Create(context.Background(), newInput(t, title))
	require.NoError(t, err)
	return p.ID
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
