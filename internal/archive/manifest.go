package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"learnhub/pkg/models"
)

// DefaultManifestName is the manifest file expected at the top of every tree.
const DefaultManifestName = "h5p.json"

// Manifest holds the few manifest fields the platform cares about.
type Manifest struct {
	Title       string `json:"title"`
	MainLibrary string `json:"mainLibrary"`
	Language    string `json:"language,omitempty"`
}

// DeclaredType is the manifest's content-type label, or the unknown sentinel.
func (m *Manifest) DeclaredType() string {
	if m == nil || strings.TrimSpace(m.MainLibrary) == "" {
		return models.DeclaredTypeUnknown
	}
	return strings.TrimSpace(m.MainLibrary)
}

// ReadManifest parses the manifest at dir/name.
func ReadManifest(dir, name string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	b = trimBOM(b)
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}
