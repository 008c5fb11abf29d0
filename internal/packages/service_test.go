package packages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub/internal/apperr"
	"learnhub/internal/feed"
	"learnhub/internal/storage"
	"learnhub/internal/testsupport"
	"learnhub/pkg/models"
)

// faultyLedger fails Create on demand.
type faultyLedger struct {
	Ledger
	createErrs []error
}

func (l *faultyLedger) Create(ctx context.Context, p *models.Package) error {
	if len(l.createErrs) > 0 {
		err := l.createErrs[0]
		l.createErrs = l.createErrs[1:]
		return err
	}
	return l.Ledger.Create(ctx, p)
}

func TestCreateExtractsAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID, tagIDs := testsupport.SeedTaxonomy(t, f.db)

	in := newInput(t, "For or Since!")
	in.Description = "  present perfect drill "
	in.SubjectAreaID = &subjectID
	in.TagIDs = []int64{tagIDs[0], tagIDs[1], tagIDs[0]}

	p, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, "for-or-since", p.Slug)
	assert.Equal(t, "for-or-since", p.StoragePath)
	assert.Equal(t, "H5P.MultiChoice", p.DeclaredType)
	assert.Equal(t, "present perfect drill", p.Description)
	assert.Equal(t, tagIDs, p.TagIDs)
	assert.FileExists(t, filepath.Join(f.cfg.Storage.Root, "for-or-since", "h5p.json"))

	stored, err := f.repo.GetBySlug(ctx, "for-or-since")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, p.ID, stored.ID)
	assert.Equal(t, tagIDs, stored.TagIDs)
	require.NotNil(t, stored.SubjectAreaID)
	assert.Equal(t, subjectID, *stored.SubjectAreaID)

	assert.Empty(t, dirNames(t, f.cfg.Storage.StagingDir), "staging file is always removed")
	assert.Equal(t, []string{feed.PackageCreated}, f.events.types())
}

func TestCreateSameTitleTwiceGetsDistinctSlugs(t *testing.T) {
	f := newFixture(t)
	f.svc.Slugs.Suffix = nil

	first, err := f.svc.Create(context.Background(), newInput(t, "For or Since!"))
	require.NoError(t, err)
	second, err := f.svc.Create(context.Background(), newInput(t, "For or Since!"))
	require.NoError(t, err)

	assert.Equal(t, "for-or-since", first.Slug)
	assert.NotEqual(t, first.Slug, second.Slug)
	assert.True(t, strings.HasPrefix(second.Slug, "for-or-since-"))
	assert.DirExists(t, filepath.Join(f.cfg.Storage.Root, second.Slug))
}

func TestCreateWithCoverWritesIntoTree(t *testing.T) {
	f := newFixture(t)
	in := newInput(t, "Covered")
	in.Cover = &Upload{Filename: "cover.PNG", Body: strings.NewReader("\x89PNG\r\n\x1a\nimage")}

	p, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "content/images/cover.png", p.CoverImagePath)
	assert.FileExists(t, filepath.Join(f.cfg.Storage.Root, "covered", "content", "images", "cover.png"))
}

func TestCreateRejectsBadCoverWithoutOrphan(t *testing.T) {
	f := newFixture(t)
	in := newInput(t, "Covered")
	in.Cover = &Upload{Filename: "notes.txt", Body: strings.NewReader("just text")}

	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
	assert.Empty(t, dirNames(t, f.cfg.Storage.Root))
}

func TestCreateRequiresTitleAndArchive(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), newInput(t, "   "))
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))

	_, err = f.svc.Create(context.Background(), CreateInput{Title: "No archive"})
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestCreatePersistFailureLeavesNoOrphan(t *testing.T) {
	f := newFixture(t)
	f.svc.Ledger = &faultyLedger{Ledger: f.repo, createErrs: []error{errors.New("database is locked")}}

	_, err := f.svc.Create(context.Background(), newInput(t, "For or Since!"))
	require.Error(t, err)
	assert.Equal(t, apperr.PersistFailed, apperr.KindOf(err))

	assert.NoDirExists(t, filepath.Join(f.cfg.Storage.Root, "for-or-since"))
	assert.Empty(t, dirNames(t, f.cfg.Storage.Root))
	assert.Empty(t, dirNames(t, f.cfg.Storage.StagingDir))
	assert.Empty(t, f.events.types())

	p, err := f.repo.GetBySlug(context.Background(), "for-or-since")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCreateRetriesWhenInsertLosesSlugRace(t *testing.T) {
	f := newFixture(t)
	f.svc.Ledger = &faultyLedger{
		Ledger:     f.repo,
		createErrs: []error{fmt.Errorf("insert package: %w", ErrSlugTaken)},
	}

	p, err := f.svc.Create(context.Background(), newInput(t, "For or Since!"))
	require.NoError(t, err)

	assert.Equal(t, "for-or-since-abc123", p.Slug)
	assert.Equal(t, p.Slug, p.StoragePath)
	assert.DirExists(t, filepath.Join(f.cfg.Storage.Root, "for-or-since-abc123"))
	assert.NoDirExists(t, filepath.Join(f.cfg.Storage.Root, "for-or-since"))
}

func TestCreateGivesUpAfterRepeatedSlugRaces(t *testing.T) {
	f := newFixture(t)
	f.svc.Slugs.Suffix = nil
	taken := fmt.Errorf("insert package: %w", ErrSlugTaken)
	f.svc.Ledger = &faultyLedger{Ledger: f.repo, createErrs: []error{taken, taken, taken}}

	_, err := f.svc.Create(context.Background(), newInput(t, "Busy"))
	require.Error(t, err)
	assert.Equal(t, apperr.SlugCollision, apperr.KindOf(err))
	assert.Empty(t, dirNames(t, f.cfg.Storage.Root))
}

func TestCreateUnknownTagIsInvalidInput(t *testing.T) {
	f := newFixture(t)
	in := newInput(t, "Tagged")
	in.TagIDs = []int64{999}

	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
	assert.Empty(t, dirNames(t, f.cfg.Storage.Root))
}

func TestCreateFailedExtractionLeavesNothing(t *testing.T) {
	tests := []struct {
		name    string
		archive []byte
		kind    apperr.Kind
	}{
		{
			name:    "not a zip",
			archive: []byte("definitely not a zip"),
			kind:    apperr.InvalidPackageFormat,
		},
		{
			name: "truncated",
			archive: func() []byte {
				b := testsupport.ZipBytes(t, testsupport.PackageEntries())
				return b[:len(b)/2]
			}(),
			kind: apperr.InvalidPackageFormat,
		},
		{
			name: "traversal entry",
			archive: testsupport.ZipBytes(t, []testsupport.Entry{
				{Name: "h5p.json", Body: testsupport.ValidManifest},
				{Name: "../../evil", Body: "pwned"},
			}),
			kind: apperr.PathTraversalRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), CreateInput{
				Title:   "For or Since!",
				Archive: bytes.NewReader(tt.archive),
			})
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))

			assert.Empty(t, dirNames(t, f.cfg.Storage.Root))
			assert.Empty(t, dirNames(t, f.cfg.Storage.StagingDir))
			assert.NoFileExists(t, filepath.Join(f.cfg.Storage.Root, "..", "..", "evil"))
		})
	}
}

func TestCreateTooLargeUpload(t *testing.T) {
	f := newFixture(t)
	f.svc.MaxUploadBytes = 64

	_, err := f.svc.Create(context.Background(), newInput(t, "Big"))
	require.Error(t, err)
	assert.Equal(t, apperr.PackageTooLarge, apperr.KindOf(err))
	assert.Empty(t, dirNames(t, f.cfg.Storage.StagingDir))
}

func TestUpdateMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID, tagIDs := testsupport.SeedTaxonomy(t, f.db)

	in := newInput(t, "For or Since!")
	in.SubjectAreaID = &subjectID
	in.TagIDs = tagIDs
	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	title := "For or Since? (revised)"
	p, err := f.svc.Update(ctx, created.ID, UpdateInput{
		Title:            &title,
		ClearSubjectArea: true,
		TagIDs:           []int64{tagIDs[1]},
	})
	require.NoError(t, err)
	assert.Equal(t, title, p.Title)
	assert.Equal(t, "for-or-since", p.Slug, "slug never changes")
	assert.Nil(t, p.SubjectAreaID)

	stored, err := f.repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, title, stored.Title)
	assert.Equal(t, []int64{tagIDs[1]}, stored.TagIDs)
	assert.Nil(t, stored.SubjectAreaID)

	p, err = f.svc.Update(ctx, created.ID, UpdateInput{TagIDs: []int64{}})
	require.NoError(t, err)
	assert.Empty(t, p.TagIDs)
	assert.Equal(t, []string{feed.PackageCreated, feed.PackageUpdated, feed.PackageUpdated}, f.events.types())
}

func TestUpdateRejectsEmptyTitle(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "Keep me")
	blank := " "

	_, err := f.svc.Update(context.Background(), id, UpdateInput{Title: &blank})
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestUpdateMissingPackage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Update(context.Background(), 42, UpdateInput{})
	assert.True(t, errors.Is(err, apperr.PackageNotFound))
}

func TestUpdateCoverFindsDriftedTreeAndRetiresLegacyCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "For or Since!")

	// an older upload left the tree under a different name and the cover in
	// the shared images directory
	root := f.cfg.Storage.Root
	require.NoError(t, os.Rename(filepath.Join(root, "for-or-since"), filepath.Join(root, "For_Or_Since_v1")))
	testsupport.WriteFile(t, filepath.Join(f.cfg.Storage.LegacyImagesDir, "legacy.jpg"), "\xff\xd8\xffold")
	_, err := f.db.Exec(`UPDATE packages SET cover_image_path = 'legacy.jpg' WHERE id = ?`, id)
	require.NoError(t, err)

	p, err := f.svc.Update(ctx, id, UpdateInput{
		Cover: &Upload{Filename: "new.png", Body: strings.NewReader("\x89PNG\r\n\x1a\nnew")},
	})
	require.NoError(t, err)

	assert.Equal(t, "content/images/cover.png", p.CoverImagePath)
	assert.FileExists(t, filepath.Join(root, "For_Or_Since_v1", "content", "images", "cover.png"))
	assert.NoDirExists(t, filepath.Join(root, "for-or-since"), "no second tree is created")
	assert.NoFileExists(t, filepath.Join(f.cfg.Storage.LegacyImagesDir, "legacy.jpg"))
	assert.Empty(t, dirNames(t, f.cfg.Storage.StagingDir))
}

func TestUpdateCoverPrunesPreviousExtensionAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := newInput(t, "Covered")
	in.Cover = &Upload{Filename: "cover.png", Body: strings.NewReader("\x89PNG\r\n\x1a\nold")}
	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	p, err := f.svc.Update(ctx, created.ID, UpdateInput{
		Cover: &Upload{Filename: "photo.jpg", Body: strings.NewReader("\xff\xd8\xffnew")},
	})
	require.NoError(t, err)

	images := filepath.Join(f.cfg.Storage.Root, "covered", "content", "images")
	assert.Equal(t, "content/images/cover.jpg", p.CoverImagePath)
	assert.FileExists(t, filepath.Join(images, "cover.jpg"))
	assert.NoFileExists(t, filepath.Join(images, "cover.png"))
}

func TestUpdateRejectedByLedgerKeepsPreviousCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := newInput(t, "Covered")
	in.Cover = &Upload{Filename: "cover.png", Body: strings.NewReader("\x89PNG\r\n\x1a\nold")}
	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.ID, UpdateInput{
		TagIDs: []int64{999},
		Cover:  &Upload{Filename: "photo.jpg", Body: strings.NewReader("\xff\xd8\xffnew")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.InvalidInput))

	images := filepath.Join(f.cfg.Storage.Root, "covered", "content", "images")
	b, err := os.ReadFile(filepath.Join(images, "cover.png"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\r\n\x1a\nold", string(b))
	assert.NoFileExists(t, filepath.Join(images, "cover.jpg"))

	stored, err := f.repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "content/images/cover.png", stored.CoverImagePath)
}

func TestUpdateCoverSkippedWhenTreeMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "For or Since!")
	require.NoError(t, os.RemoveAll(filepath.Join(f.cfg.Storage.Root, "for-or-since")))

	title := "Still editable"
	p, err := f.svc.Update(ctx, id, UpdateInput{
		Title: &title,
		Cover: &Upload{Filename: "new.png", Body: strings.NewReader("\x89PNG\r\n\x1a\nnew")},
	})
	require.NoError(t, err)
	assert.Equal(t, title, p.Title)
	assert.Empty(t, p.CoverImagePath)
	assert.Empty(t, dirNames(t, f.cfg.Storage.Root))
}

func TestDeleteRemovesEveryArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "For or Since!")

	testsupport.WriteFile(t, filepath.Join(f.cfg.Storage.LegacyImagesDir, "legacy.jpg"), "img")
	_, err := f.db.Exec(`UPDATE packages SET cover_image_path = 'legacy.jpg' WHERE id = ?`, id)
	require.NoError(t, err)

	staging := f.cfg.Storage.StagingDir
	testsupport.WriteFile(t, filepath.Join(staging, "for-or-since.dead.zip"), "x")
	testsupport.WriteFile(t, filepath.Join(staging, storage.PackagePrefix(id)+".dead.upload"), "x")
	testsupport.WriteFile(t, filepath.Join(staging, "for-or-since-abc123.other.zip"), "keep")

	res, err := f.svc.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Cleanup.OK())
	assert.Len(t, res.Cleanup.Removed, 4)

	assert.NoDirExists(t, filepath.Join(f.cfg.Storage.Root, "for-or-since"))
	assert.NoFileExists(t, filepath.Join(f.cfg.Storage.LegacyImagesDir, "legacy.jpg"))
	assert.Equal(t, []string{"for-or-since-abc123.other.zip"}, dirNames(t, staging))

	p, err := f.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, []string{feed.PackageCreated, feed.PackageDeleted}, f.events.types())
}

func TestDeleteWithTreeAlreadyGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "For or Since!")
	require.NoError(t, os.RemoveAll(filepath.Join(f.cfg.Storage.Root, "for-or-since")))

	res, err := f.svc.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Cleanup.OK())
	assert.NotEmpty(t, res.Cleanup.Skipped)

	_, err = f.svc.Lookup(ctx, "for-or-since")
	assert.True(t, errors.Is(err, apperr.PackageNotFound))
}

func TestDeleteNeverTakesAnotherPackagesTree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustCreate(t, "Quiz")
	second := f.mustCreate(t, "Quiz")

	other, err := f.repo.GetByID(ctx, second)
	require.NoError(t, err)
	require.Equal(t, "quiz-abc123", other.Slug)

	require.NoError(t, os.RemoveAll(filepath.Join(f.cfg.Storage.Root, "quiz")))
	_, err = f.svc.Delete(ctx, first)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(f.cfg.Storage.Root, "quiz-abc123"))
}

func TestDeleteSparesTreeOfUncommittedCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "Math")

	// a second "Math" upload is between extraction and its ledger insert
	root := f.cfg.Storage.Root
	require.NoError(t, os.RemoveAll(filepath.Join(root, "math")))
	testsupport.WriteFile(t, filepath.Join(root, "math-abc123", "h5p.json"), "{}")
	testsupport.WriteFile(t, filepath.Join(f.cfg.Storage.StagingDir, "math-abc123.x.zip"), "zip")

	res, err := f.svc.Delete(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, res.Cleanup.Errors)

	assert.DirExists(t, filepath.Join(root, "math-abc123"))
	assert.FileExists(t, filepath.Join(root, "math-abc123", "h5p.json"))
}

func TestDeleteFuzzyMatchesDriftedTree(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "For or Since!")
	root := f.cfg.Storage.Root
	require.NoError(t, os.Rename(filepath.Join(root, "for-or-since"), filepath.Join(root, "for-or-since-old")))

	res, err := f.svc.Delete(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, res.Cleanup.Removed, filepath.Join(root, "for-or-since-old"))
	assert.Empty(t, dirNames(t, root))
}

func TestDeleteMissingPackage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Delete(context.Background(), 7)
	assert.Equal(t, apperr.PackageNotFound, apperr.KindOf(err))
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "For or Since!")
	numeric := f.mustCreate(t, "2024")

	p, err := f.svc.Lookup(ctx, "for-or-since")
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)

	p, err = f.svc.Lookup(ctx, fmt.Sprint(id))
	require.NoError(t, err)
	assert.Equal(t, "for-or-since", p.Slug)

	p, err = f.svc.Lookup(ctx, "2024")
	require.NoError(t, err)
	assert.Equal(t, numeric, p.ID)

	_, err = f.svc.Lookup(ctx, "nope")
	assert.Equal(t, apperr.PackageNotFound, apperr.KindOf(err))
}
