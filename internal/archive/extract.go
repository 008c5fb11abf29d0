package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"learnhub/internal/apperr"
	"learnhub/pkg/logger"
	"learnhub/pkg/models"
)

// Limits bounds what a single archive may expand into.
type Limits struct {
	MaxEntries int
	MaxBytes   int64
}

type Extractor struct {
	Limits       Limits
	ManifestName string
	Log          *logger.Logger
}

func NewExtractor(limits Limits, manifestName string, log *logger.Logger) *Extractor {
	if manifestName == "" {
		manifestName = DefaultManifestName
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{Limits: limits, ManifestName: manifestName, Log: log}
}

// Result describes a successful extraction.
type Result struct {
	DeclaredType  string
	ManifestTitle string
	HasManifest   bool
	Entries       int
	Bytes         int64
}

// ExtractFile opens the archive at src and extracts it into dest.
func (x *Extractor) ExtractFile(ctx context.Context, src, dest string) (*Result, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, apperr.New(apperr.StorageWriteFailed, "open archive", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apperr.New(apperr.StorageWriteFailed, "stat archive", err)
	}
	return x.Extract(ctx, f, info.Size(), dest)
}

// Extract validates the archive, expands it into dest, and parses the
// manifest. dest must not exist or must be an empty directory. On failure
// dest is removed before the error is returned.
func (x *Extractor) Extract(ctx context.Context, r io.ReaderAt, size int64, dest string) (*Result, error) {
	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, apperr.New(apperr.PathTraversalRejected, "open archive", err)
	}
	if err != nil {
		return nil, apperr.New(apperr.InvalidPackageFormat, "open archive", err)
	}
	if len(zr.File) == 0 {
		return nil, apperr.Errorf(apperr.InvalidPackageFormat, "open archive", "archive is empty")
	}

	if err := x.checkLimits(zr); err != nil {
		return nil, err
	}

	// every entry is vetted before anything touches the disk
	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		target, err := entryTarget(dest, f)
		if err != nil {
			return nil, err
		}
		targets[i] = target
	}

	if err := prepareDest(dest); err != nil {
		return nil, err
	}

	res, err := x.expand(ctx, zr, targets)
	if err != nil {
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			x.Log.Error("remove partial extraction failed", "dest", dest, "error", rmErr)
		}
		return nil, err
	}

	manifest, err := ReadManifest(dest, x.ManifestName)
	switch {
	case err == nil:
		res.HasManifest = true
		res.DeclaredType = manifest.DeclaredType()
		res.ManifestTitle = strings.TrimSpace(manifest.Title)
	default:
		res.HasManifest = !errors.Is(err, fs.ErrNotExist)
		res.DeclaredType = models.DeclaredTypeUnknown
		x.Log.Warn("manifest unreadable, declared type left unknown", "dest", dest, "error", err)
	}
	return res, nil
}

func (x *Extractor) checkLimits(zr *zip.Reader) error {
	if x.Limits.MaxEntries > 0 && len(zr.File) > x.Limits.MaxEntries {
		return apperr.Errorf(apperr.TooManyEntries, "check archive",
			"archive has %d entries, limit is %d", len(zr.File), x.Limits.MaxEntries)
	}
	if x.Limits.MaxBytes > 0 {
		var total uint64
		for _, f := range zr.File {
			total += f.UncompressedSize64
			if total > uint64(x.Limits.MaxBytes) {
				return apperr.Errorf(apperr.PackageTooLarge, "check archive",
					"archive expands beyond %d bytes", x.Limits.MaxBytes)
			}
		}
	}
	return nil
}

func (x *Extractor) expand(ctx context.Context, zr *zip.Reader, targets []string) (*Result, error) {
	res := &Result{}
	budget := x.Limits.MaxBytes

	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, apperr.New(apperr.StorageWriteFailed, "extract archive", err)
		}
		target := targets[i]

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, apperr.New(apperr.StorageWriteFailed, "create directory", err)
			}
			continue
		}

		n, err := writeEntry(f, target, budget)
		if err != nil {
			return nil, err
		}
		if budget > 0 {
			budget -= n
		}
		res.Entries++
		res.Bytes += n
	}
	return res, nil
}

func writeEntry(f *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, apperr.New(apperr.StorageWriteFailed, "create directory", err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, apperr.New(apperr.InvalidPackageFormat, "open entry "+f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, apperr.New(apperr.StorageWriteFailed, "create "+f.Name, err)
	}
	defer out.Close()

	var src io.Reader = rc
	if budget > 0 {
		// headers can lie; count real bytes, one past the budget to detect overflow
		src = io.LimitReader(rc, budget+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return n, apperr.New(apperr.StorageWriteFailed, "write "+f.Name, err)
		}
		return n, apperr.New(apperr.InvalidPackageFormat, "read entry "+f.Name, err)
	}
	if budget > 0 && n > budget {
		return n, apperr.Errorf(apperr.PackageTooLarge, "write "+f.Name, "archive expands beyond its size limit")
	}
	if err := out.Close(); err != nil {
		return n, apperr.New(apperr.StorageWriteFailed, "close "+f.Name, err)
	}
	return n, nil
}

// entryTarget resolves an entry name under dest, rejecting anything that
// would land outside it.
func entryTarget(dest string, f *zip.File) (string, error) {
	name := f.Name
	reject := func(reason string) error {
		return apperr.Errorf(apperr.PathTraversalRejected, "check entry", "entry %q: %s", name, reason)
	}

	if f.Mode()&fs.ModeSymlink != 0 {
		return "", reject("symlinks are not allowed")
	}
	if strings.ContainsRune(name, 0) {
		return "", reject("contains NUL")
	}
	slashed := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", reject("absolute path")
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", reject("parent directory segment")
		}
	}

	clean := path.Clean(slashed)
	if clean == "." || clean == "" {
		return "", reject("empty name")
	}
	target := filepath.Join(dest, filepath.FromSlash(clean))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", reject("escapes destination")
	}
	return target, nil
}

func prepareDest(dest string) error {
	entries, err := os.ReadDir(dest)
	switch {
	case err == nil:
		if len(entries) > 0 {
			return apperr.Errorf(apperr.StorageWriteFailed, "prepare destination", "%s is not empty", dest)
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return apperr.New(apperr.StorageWriteFailed, "prepare destination", err)
		}
		return nil
	default:
		return apperr.New(apperr.StorageWriteFailed, "prepare destination", fmt.Errorf("read %s: %w", dest, err))
	}
}
