package testsupport

import (
	"database/sql"
	"testing"

	"learnhub/pkg/database"
	"learnhub/pkg/utils"
)

// NewDB opens a migrated sqlite ledger at the config's database path and
// closes it when the test ends.
func NewDB(t testing.TB, cfg utils.Config) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout(),
		JournalMode: cfg.Database.JournalMode,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

// SeedTaxonomy inserts a subject area and two tags and returns their ids.
func SeedTaxonomy(t testing.TB, db *sql.DB) (subjectID int64, tagIDs []int64) {
	t.Helper()

	res, err := db.Exec(`INSERT INTO subject_areas (name, slug) VALUES ('Grammar', 'grammar')`)
	if err != nil {
		t.Fatalf("insert subject area: %v", err)
	}
	subjectID, _ = res.LastInsertId()

	for _, name := range []string{"tenses", "b1"} {
		res, err := db.Exec(`INSERT INTO tags (name, slug) VALUES (?, ?)`, name, name)
		if err != nil {
			t.Fatalf("insert tag: %v", err)
		}
		id, _ := res.LastInsertId()
		tagIDs = append(tagIDs, id)
	}
	return subjectID, tagIDs
}
