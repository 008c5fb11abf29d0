package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnhub/internal/testsupport"
	"learnhub/pkg/models"
)

type cliEnv struct {
	base       string
	configPath string
}

func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	base := t.TempDir()
	configPath := filepath.Join(base, "learnhub.toml")
	testsupport.WriteFile(t, configPath, fmt.Sprintf(`
[database]
path = %q

[storage]
root = %q
staging_dir = %q
legacy_images_dir = %q

[auth]
jwt_secret = "cli-test"
`,
		filepath.Join(base, "data.db"),
		filepath.Join(base, "packages"),
		filepath.Join(base, "staging"),
		filepath.Join(base, "images"),
	))
	return &cliEnv{base: base, configPath: configPath}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestMigrateCommand(t *testing.T) {
	env := setupCLIEnv(t)
	out, _, err := env.run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Database ready")
	assert.FileExists(t, filepath.Join(env.base, "data.db"))

	// second run is a no-op
	_, _, err = env.run(t, "migrate")
	require.NoError(t, err)
}

func TestAdminCreateCommand(t *testing.T) {
	env := setupCLIEnv(t)

	out, _, err := env.run(t, "admin", "create", "--username", "ops", "--email", "Ops@Example.com", "--password", "long-enough")
	require.NoError(t, err)
	assert.Contains(t, out, "Created admin ops@example.com")

	_, _, err = env.run(t, "admin", "create", "--username", "ops", "--email", "ops@example.com", "--password", "long-enough")
	assert.ErrorContains(t, err, "already exists")

	_, _, err = env.run(t, "admin", "create", "--username", "x", "--email", "x@example.com", "--password", "short")
	assert.Error(t, err)
}

func TestReconcileCommandReportsOrphans(t *testing.T) {
	env := setupCLIEnv(t)
	testsupport.WriteFile(t, filepath.Join(env.base, "packages", "stray", "h5p.json"), testsupport.ValidManifest)

	out, _, err := env.run(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "stray")
	assert.Contains(t, out, "0 ok, 0 fuzzy, 0 missing, 1 orphan")

	_, _, err = env.run(t, "reconcile", "--strict")
	assert.ErrorContains(t, err, "1 ledger/directory mismatches")

	out, _, err = env.run(t, "reconcile", "--json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	assert.Contains(t, out, `"status": "orphan"`)
}

func TestJanitorCommand(t *testing.T) {
	env := setupCLIEnv(t)
	stale := filepath.Join(env.base, "staging", "0f4c.zip")
	fresh := filepath.Join(env.base, "staging", "9a1b.zip")
	testsupport.WriteFile(t, stale, "old")
	testsupport.WriteFile(t, fresh, "new")
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	out, _, err := env.run(t, "janitor", "--max-age", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 staging entries")
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "only")
	assert.Empty(t, renderTable(nil, nil, nil))
}

func TestExportCommand(t *testing.T) {
	env := setupCLIEnv(t)
	out, _, err := env.run(t, "export")
	require.NoError(t, err)
	assert.Equal(t, "id,slug,title,declared_type,storage_path,cover_image_path,subject_area_id,tag_ids,created_at\n", out)

	subject := int64(4)
	var buf bytes.Buffer
	require.NoError(t, writePackagesCSV(&buf, []models.Package{{
		ID:            9,
		Slug:          "for-or-since",
		Title:         "For, or Since?",
		DeclaredType:  "H5P.MultiChoice",
		StoragePath:   "for-or-since",
		SubjectAreaID: &subject,
		TagIDs:        []int64{1, 2},
		CreatedAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `9,for-or-since,"For, or Since?",H5P.MultiChoice,for-or-since,,4,1;2,2024-03-01T10:00:00Z`, lines[1])
}
