package testsupport

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// Entry is one file in a generated archive.
type Entry struct {
	Name string
	Body string
}

// ValidManifest is a minimal h5p.json.
const ValidManifest = `{"title":"For or Since","mainLibrary":"H5P.MultiChoice","language":"en"}`

// PackageEntries returns the entries of a small but playable package.
func PackageEntries() []Entry {
	return []Entry{
		{Name: "h5p.json", Body: ValidManifest},
		{Name: "content/content.json", Body: `{"question":"I have lived here ___ 2010."}`},
		{Name: "content/images/photo.png", Body: "\x89PNG\r\n\x1a\nfake"},
		{Name: "H5P.MultiChoice-1.16/library.json", Body: `{"machineName":"H5P.MultiChoice"}`},
	}
}

// ZipBytes builds an archive in memory. Entries are written in order with
// the Store method so tests can locate raw entry bytes.
func ZipBytes(t testing.TB, entries []Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Store})
		if err != nil {
			t.Fatalf("create entry %s: %v", e.Name, err)
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("write entry %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// WriteZip writes ZipBytes(entries) to path.
func WriteZip(t testing.TB, path string, entries []Entry) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, ZipBytes(t, entries), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteFile writes body to path, creating parent directories.
func WriteFile(t testing.TB, path, body string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
