package migration

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/backend/migrations"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add shops table", "add_shops_table"},
		{"Add-Search-Profiles", "add_search_profiles"},
		{"ADD_PAGES", "add_pages"},
		{"add__variant__index", "add_variant_index"},
		{"Catalog v2", "catalog_v2"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"trailing_", "trailing"},
		{"_leading", "leading"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, 1, nextVersion(nil))
	assert.Equal(t, 3, nextVersion([]string{"000001_init", "000002_rls"}))
	assert.Equal(t, 8, nextVersion([]string{"000007_x", "notes_y", "000002_z"}))
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000004_existing.up.sql"), []byte("--"), 0o644))

	mf, err := CreateMigration(dir, "add page slug index", "Index pages by slug")
	require.NoError(t, err)

	assert.Equal(t, "000005", mf.Version)
	assert.Equal(t, filepath.Join(dir, "000005_add_page_slug_index.up.sql"), mf.UpPath)
	assert.Equal(t, filepath.Join(dir, "000005_add_page_slug_index.down.sql"), mf.DownPath)

	up, err := os.ReadFile(mf.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "add page slug index")
	assert.Contains(t, string(up), "Index pages by slug")

	down, err := os.ReadFile(mf.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "Rollback")
}

func TestCreateMigration_CreatesDirectory(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "nested", "migrations")

	mf, err := CreateMigration(nested, "init", "first")
	require.NoError(t, err)
	assert.Equal(t, "000001", mf.Version)

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateMigration_RejectsEmptyName(t *testing.T) {
	_, err := CreateMigration(t.TempDir(), "!!!", "")
	assert.Error(t, err)
}

func TestListMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_tenant_row_security.up.sql":   {},
		"000002_tenant_row_security.down.sql": {},
		"000001_init.up.sql":                  {},
		"000001_init.down.sql":                {},
		"README.md":                           {},
		".up.sql":                             {},
		"subdir.up.sql/keep":                  {},
	}

	names, err := ListMigrations(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_init", "000002_tenant_row_security"}, names)
}

func TestListMigrations_NonexistentDirectory(t *testing.T) {
	names, err := ListMigrations(os.DirFS("/nonexistent/path/to/migrations"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMissingDownMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"000001_init.up.sql":   {},
		"000001_init.down.sql": {},
		"000002_seed.up.sql":   {},
	}

	missing, err := MissingDownMigrations(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"000002_seed"}, missing)
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := ListMigrations(migrations.FS)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_init", "000002_tenant_row_security"}, names)

	missing, err := MissingDownMigrations(migrations.FS)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
