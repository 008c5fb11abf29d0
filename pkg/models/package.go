package models

import "time"

// DeclaredTypeUnknown is stored when an archive has no readable manifest.
const DeclaredTypeUnknown = "unknown"

// Package is one ledger row: an uploaded archive extracted under the store
// root. StoragePath is normally equal to Slug.
type Package struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Slug           string    `json:"slug"`
	StoragePath    string    `json:"storage_path,omitempty"`
	CoverImagePath string    `json:"cover_image_path,omitempty"`
	DeclaredType   string    `json:"declared_type"`
	Description    string    `json:"description,omitempty"`
	SubjectAreaID  *int64    `json:"subject_area_id,omitempty"`
	TagIDs         []int64   `json:"tag_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StorageKey is the name the package's tree is expected under.
func (p Package) StorageKey() string {
	if p.StoragePath != "" {
		return p.StoragePath
	}
	return p.Slug
}
