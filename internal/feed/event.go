package feed

import "time"

const (
	PackageCreated = "package.created"
	PackageUpdated = "package.updated"
	PackageDeleted = "package.deleted"
)

// PackageEvent is one lifecycle change pushed to feed subscribers.
type PackageEvent struct {
	Type      string    `json:"type"`
	PackageID int64     `json:"package_id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title,omitempty"`
	At        time.Time `json:"at"`
}
