package content

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"learnhub/internal/apperr"
	"learnhub/pkg/logger"
)

// content types players depend on, which the system mime table gets wrong
// or lacks on minimal hosts
var contentTypes = map[string]string{
	".json":  "application/json",
	".js":    "text/javascript; charset=utf-8",
	".mjs":   "text/javascript; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".eot":   "application/vnd.ms-fontobject",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".vtt":   "text/vtt; charset=utf-8",
	".mp3":   "audio/mpeg",
	".ogg":   "audio/ogg",
	".wav":   "audio/wav",
	".txt":   "text/plain; charset=utf-8",
}

// Gateway streams package files with a content type and caching headers.
type Gateway struct {
	MaxAge time.Duration
	Log    *logger.Logger
}

func NewGateway(maxAge time.Duration, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Nop()
	}
	return &Gateway{MaxAge: maxAge, Log: log}
}

// Serve writes the file at t.Path. A file that is missing, is a directory,
// or disappears before it can be opened is AssetNotFound and nothing is
// written to w.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, t *Target) error {
	f, err := os.Open(t.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.Errorf(apperr.AssetNotFound, "serve asset", "%s not found", t.Rel)
		}
		return apperr.New(apperr.Internal, "open asset", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperr.New(apperr.Internal, "stat asset", err)
	}
	if info.IsDir() {
		return apperr.Errorf(apperr.AssetNotFound, "serve asset", "%s is a directory", t.Rel)
	}

	ctype, err := contentType(f, t.Path)
	if err != nil {
		return apperr.New(apperr.Internal, "sniff asset", err)
	}

	h := w.Header()
	h.Set("Content-Type", ctype)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("ETag", fmt.Sprintf(`"%x-%x"`, info.Size(), info.ModTime().UnixNano()))
	if g.MaxAge > 0 {
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(g.MaxAge.Seconds())))
	} else {
		h.Set("Cache-Control", "no-cache")
	}
	if t.Fuzzy {
		g.Log.Debug("serving from fuzzy-matched directory", "slug", t.Package.Slug, "dir", t.Dir)
	}

	http.ServeContent(w, r, filepath.Base(t.Path), info.ModTime(), f)
	return nil
}

func contentType(f io.ReadSeeker, name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct, nil
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct, nil
	}

	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return m.String(), nil
}
