package packages

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"learnhub/internal/apperr"
	"learnhub/internal/archive"
	"learnhub/internal/feed"
	"learnhub/internal/slug"
	"learnhub/internal/storage"
	"learnhub/pkg/logger"
	"learnhub/pkg/models"
)

// Processing stages of a create attempt, as they appear in logs.
const (
	StageReceived         = "received"
	StageExtracting       = "extracting"
	StageExtracted        = "extracted"
	StagePersisting       = "persisting"
	StageCommitted        = "committed"
	StageExtractionFailed = "extraction_failed"
	StagePersistFailed    = "persist_failed"
)

const (
	maxPersistAttempts = 3
	maxCoverBytes      = 16 << 20
)

// Ledger is the relational record of packages. *Repo implements it.
type Ledger interface {
	slug.Checker
	GetByID(ctx context.Context, id int64) (*models.Package, error)
	GetBySlug(ctx context.Context, s string) (*models.Package, error)
	StorageKeys(ctx context.Context) (map[string]int64, error)
	Create(ctx context.Context, p *models.Package) error
	Update(ctx context.Context, p *models.Package) error
	Delete(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, q ListQuery) ([]models.Package, error)
	Count(ctx context.Context, q ListQuery) (int, error)
	Taxonomy(ctx context.Context) ([]models.SubjectArea, []models.Tag, error)
}

// Publisher receives lifecycle events. *feed.Hub implements it.
type Publisher interface {
	Publish(ev feed.PackageEvent)
}

// Upload is a file received alongside a request.
type Upload struct {
	Filename string
	Body     io.Reader
}

type CreateInput struct {
	Title         string
	Description   string
	SubjectAreaID *int64
	TagIDs        []int64
	Archive       io.Reader
	Cover         *Upload
}

// UpdateInput carries the fields to change. Nil fields are left alone; a
// non-nil empty TagIDs clears the tag set.
type UpdateInput struct {
	Title            *string
	Description      *string
	SubjectAreaID    *int64
	ClearSubjectArea bool
	TagIDs           []int64
	Cover            *Upload
}

// Service sequences package create, update and delete across the store,
// the extractor and the ledger.
type Service struct {
	Ledger         Ledger
	Store          *storage.Store
	Extractor      *archive.Extractor
	Slugs          *slug.Allocator
	Events         Publisher
	Log            *logger.Logger
	MaxUploadBytes int64
}

func NewService(ledger Ledger, store *storage.Store, extractor *archive.Extractor, events Publisher, log *logger.Logger, maxUploadBytes int64) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		Ledger:         ledger,
		Store:          store,
		Extractor:      extractor,
		Slugs:          slug.NewAllocator(ledger, store),
		Events:         events,
		Log:            log,
		MaxUploadBytes: maxUploadBytes,
	}
}

// Create stages the archive, extracts it under a freshly allocated slug and
// records it in the ledger. Either every step succeeds or nothing the
// attempt created is left on disk.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Package, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Errorf(apperr.InvalidInput, "create package", "title is required")
	}
	if in.Archive == nil {
		return nil, apperr.Errorf(apperr.InvalidInput, "create package", "archive is required")
	}

	up, err := s.Store.Stage(in.Archive, s.MaxUploadBytes)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Store.Discard(up); err != nil {
			s.Log.Warn("failed to remove staging file", "path", up.Path, "error", err)
		}
	}()
	log := s.Log.With("title", title)
	log.Info("package upload", "stage", StageReceived, "bytes", up.Size)

	pkgSlug, err := s.Slugs.Allocate(ctx, title)
	if err != nil {
		return nil, err
	}
	log = log.With("slug", pkgSlug)
	if err := s.Store.TagStaged(up, pkgSlug); err != nil {
		log.Warn("failed to tag staging file", "error", err)
	}

	dest, err := s.Store.PackageDir(pkgSlug)
	if err != nil {
		return nil, err
	}
	log.Info("package upload", "stage", StageExtracting, "dest", dest)
	res, err := s.Extractor.ExtractFile(ctx, up.Path, dest)
	if err != nil {
		log.Warn("package upload", "stage", StageExtractionFailed, "kind", apperr.KindOf(err), "error", err)
		return nil, err
	}
	log.Info("package upload",
		"stage", StageExtracted,
		"entries", res.Entries,
		"bytes", res.Bytes,
		"declared_type", res.DeclaredType,
	)

	p := &models.Package{
		Title:         title,
		Slug:          pkgSlug,
		StoragePath:   pkgSlug,
		DeclaredType:  res.DeclaredType,
		Description:   strings.TrimSpace(in.Description),
		SubjectAreaID: in.SubjectAreaID,
		TagIDs:        dedupe(in.TagIDs),
	}

	if in.Cover != nil {
		rel, err := s.Store.WriteCover(dest, in.Cover.Filename, io.LimitReader(in.Cover.Body, maxCoverBytes))
		if err != nil {
			s.discardTree(log, dest)
			return nil, err
		}
		p.CoverImagePath = rel
	}

	log.Info("package upload", "stage", StagePersisting)
	if err := s.persist(ctx, p, up); err != nil {
		dir, _ := s.Store.PackageDir(p.Slug)
		s.discardTree(log, dir)
		log.Warn("package upload", "stage", StagePersistFailed, "kind", apperr.KindOf(err), "error", err)
		return nil, err
	}

	log.Info("package upload", "stage", StageCommitted, "id", p.ID)
	s.publish(feed.PackageCreated, p)
	return p, nil
}

// persist inserts p, moving its tree to a new slug when the insert loses a
// race for the current one.
func (s *Service) persist(ctx context.Context, p *models.Package, up *storage.StagedUpload) error {
	for attempt := 1; ; attempt++ {
		err := s.Ledger.Create(ctx, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSlugTaken) {
			if apperr.KindOf(err) == apperr.InvalidInput {
				return err
			}
			return apperr.New(apperr.PersistFailed, "create package", err)
		}
		if attempt >= maxPersistAttempts {
			return apperr.Errorf(apperr.SlugCollision, "create package", "slug %q still taken after %d attempts", p.Slug, attempt)
		}

		next, err := s.Slugs.AllocateFrom(ctx, slug.Slugify(p.Title))
		if err != nil {
			return err
		}
		if _, err := s.Store.Rename(p.Slug, next); err != nil {
			return err
		}
		s.Log.Info("slug taken on insert, retrying", "slug", p.Slug, "next", next, "attempt", attempt)
		if err := s.Store.TagStaged(up, next); err != nil {
			s.Log.Warn("failed to tag staging file", "error", err)
		}
		p.Slug, p.StoragePath = next, next
	}
}

func (s *Service) discardTree(log *logger.Logger, dir string) {
	if dir == "" {
		return
	}
	if err := s.Store.RemoveTree(dir); err != nil {
		log.Error("failed to remove package tree after failed create", "dir", dir, "error", err)
	}
}

// Update changes ledger metadata and, when a cover is supplied, rewrites the
// cover inside the package tree. A missing tree skips the cover only.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*models.Package, error) {
	p, err := s.Ledger.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "load package", err)
	}
	if p == nil {
		return nil, apperr.Errorf(apperr.PackageNotFound, "update package", "package %d not found", id)
	}
	log := s.Log.With("id", p.ID, "slug", p.Slug)

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, apperr.Errorf(apperr.InvalidInput, "update package", "title cannot be empty")
		}
		p.Title = title
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	switch {
	case in.ClearSubjectArea:
		p.SubjectAreaID = nil
	case in.SubjectAreaID != nil:
		p.SubjectAreaID = in.SubjectAreaID
	}
	if in.TagIDs != nil {
		p.TagIDs = dedupe(in.TagIDs)
	}

	previousCover := p.CoverImagePath
	var coverDir string
	if in.Cover != nil {
		dir, rel, err := s.replaceCover(ctx, p, in.Cover)
		switch {
		case errors.Is(err, storage.ErrDirNotFound):
			log.Warn("package tree not found, cover skipped", "storage_path", p.StorageKey())
		case err != nil:
			return nil, err
		default:
			coverDir = dir
			p.CoverImagePath = rel
		}
	}

	if err := s.Ledger.Update(ctx, p); err != nil {
		// the row still names the previous cover; drop the uncommitted one
		if coverDir != "" && p.CoverImagePath != previousCover {
			if rmErr := s.Store.DiscardCover(coverDir, p.CoverImagePath); rmErr != nil {
				log.Warn("failed to remove uncommitted cover", "cover", p.CoverImagePath, "error", rmErr)
			}
		}
		switch apperr.KindOf(err) {
		case apperr.InvalidInput, apperr.PackageNotFound:
			return nil, err
		}
		return nil, apperr.New(apperr.PersistFailed, "update package", err)
	}

	if coverDir != "" {
		if err := s.Store.PruneCovers(coverDir, p.CoverImagePath); err != nil {
			log.Warn("failed to remove previous cover", "dir", coverDir, "error", err)
		}
	}

	if previousCover != p.CoverImagePath && previousCover != "" && !s.Store.IsTreeCover(previousCover) {
		if removed, err := s.Store.RemoveLegacyCover(previousCover); err != nil {
			log.Warn("failed to remove legacy cover", "cover", previousCover, "error", err)
		} else if removed {
			log.Info("legacy cover retired", "cover", previousCover)
		}
	}

	log.Info("package updated")
	s.publish(feed.PackageUpdated, p)
	return p, nil
}

// replaceCover writes the new cover into the package tree and returns the
// tree directory and the cover's relative path.
func (s *Service) replaceCover(ctx context.Context, p *models.Package, cover *Upload) (string, string, error) {
	m, err := s.Store.ResolveDir(p.StorageKey(), s.OwnedByOthers(ctx, p.ID))
	if err != nil {
		return "", "", err
	}

	up, err := s.Store.StageFor(p.ID, cover.Body, maxCoverBytes)
	if err != nil {
		return "", "", err
	}
	defer func() {
		if err := s.Store.Discard(up); err != nil {
			s.Log.Warn("failed to remove staged cover", "path", up.Path, "error", err)
		}
	}()

	f, err := up.Open()
	if err != nil {
		return "", "", apperr.New(apperr.StorageWriteFailed, "open staged cover", err)
	}
	defer f.Close()
	rel, err := s.Store.WriteCover(m.Dir, cover.Filename, f)
	if err != nil {
		return "", "", err
	}
	return m.Dir, rel, nil
}

// DeleteResult reports what a delete removed from disk.
type DeleteResult struct {
	Package *models.Package      `json:"package"`
	Cleanup storage.CleanupReport `json:"cleanup"`
}

// Delete removes every filesystem artifact of the package, best effort,
// then the ledger row. Cleanup failures are reported, never returned.
func (s *Service) Delete(ctx context.Context, id int64) (*DeleteResult, error) {
	p, err := s.Ledger.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "load package", err)
	}
	if p == nil {
		return nil, apperr.Errorf(apperr.PackageNotFound, "delete package", "package %d not found", id)
	}
	log := s.Log.With("id", p.ID, "slug", p.Slug)

	report := s.Store.RunCleanup(ctx, []storage.CleanupAction{
		s.Store.TreeCleanup(p.StorageKey(), s.OwnedByOthers(ctx, p.ID)),
		s.Store.LegacyCoverCleanup(p.CoverImagePath),
		s.Store.StagingCleanup(p.Slug, p.ID),
	})
	if !report.OK() {
		log.Warn("package cleanup incomplete", "errors", len(report.Errors))
	}

	deleted, err := s.Ledger.Delete(ctx, p.ID)
	if err != nil {
		return nil, apperr.New(apperr.PersistFailed, "delete package", err)
	}
	if !deleted {
		return nil, apperr.Errorf(apperr.PackageNotFound, "delete package", "package %d not found", id)
	}

	log.Info("package deleted", "removed", len(report.Removed), "skipped", len(report.Skipped))
	s.publish(feed.PackageDeleted, p)
	return &DeleteResult{Package: p, Cleanup: report}, nil
}

// Lookup finds a package by numeric id or slug.
func (s *Service) Lookup(ctx context.Context, ref string) (*models.Package, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperr.Errorf(apperr.PackageNotFound, "lookup package", "empty reference")
	}

	var (
		p   *models.Package
		err error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		p, err = s.Ledger.GetByID(ctx, id)
	}
	// all-digit titles slugify to all-digit slugs
	if err == nil && p == nil {
		p, err = s.Ledger.GetBySlug(ctx, ref)
	}
	if err != nil {
		return nil, apperr.New(apperr.Internal, "lookup package", err)
	}
	if p == nil {
		return nil, apperr.Errorf(apperr.PackageNotFound, "lookup package", "no package %q", ref)
	}
	return p, nil
}

// List returns one page of packages and the total matching count.
func (s *Service) List(ctx context.Context, q ListQuery) ([]models.Package, int, error) {
	q = q.normalized()
	total, err := s.Ledger.Count(ctx, q)
	if err != nil {
		return nil, 0, apperr.New(apperr.Internal, "count packages", err)
	}
	items, err := s.Ledger.List(ctx, q)
	if err != nil {
		return nil, 0, apperr.New(apperr.Internal, "list packages", err)
	}
	return items, total, nil
}

// OwnedByOthers returns a filter matching directory names that another
// ledger row or an uncommitted create claims, so fuzzy resolution never
// lands on them.
func (s *Service) OwnedByOthers(ctx context.Context, id int64) storage.OwnedFunc {
	keys, err := s.Ledger.StorageKeys(ctx)
	if err != nil {
		s.Log.Warn("storage keys unavailable, fuzzy resolution disabled", "error", err)
		return func(string) bool { return true }
	}
	staged, err := s.Store.StagedNames()
	if err != nil {
		s.Log.Warn("staging area unreadable, fuzzy resolution disabled", "error", err)
		return func(string) bool { return true }
	}
	return ownedFilter(keys, staged, id)
}

// ownedFilter claims directories named by another ledger row and those of
// creates still holding a tagged staging upload.
func ownedFilter(keys map[string]int64, staged map[string]bool, id int64) storage.OwnedFunc {
	return func(name string) bool {
		if staged[name] {
			return true
		}
		owner, ok := keys[name]
		return ok && owner != id
	}
}

func (s *Service) publish(typ string, p *models.Package) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(feed.PackageEvent{
		Type:      typ,
		PackageID: p.ID,
		Slug:      p.Slug,
		Title:     p.Title,
		At:        time.Now().UTC(),
	})
}

func dedupe(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
