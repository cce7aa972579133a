package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/prior-auth/migrations"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(Config{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_add_index.sql":      {Data: []byte("CREATE INDEX idx_a ON a(name);")},
		"001_initial_schema.sql": {Data: []byte("CREATE TABLE a (name TEXT);")},
		"README.md":              {Data: []byte("ignored")},
	}

	loaded, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 1, loaded[0].Version)
	assert.Equal(t, "initial_schema", loaded[0].Name)
	assert.Equal(t, 2, loaded[1].Version)

	fsys["001_duplicate.sql"] = &fstest.MapFile{Data: []byte("SELECT 1;")}
	_, err = LoadMigrations(fsys)
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{"initial.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)
}

func TestMigrator_RunMigrationsIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, zaptest.NewLogger(t))

	require.NoError(t, m.RunMigrationsFS(ctx, migrations.FS))
	require.NoError(t, m.RunMigrationsFS(ctx, migrations.FS))

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.True(t, applied[1])

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'authorizations'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, zaptest.NewLogger(t))

	err := m.RunMigrationsFS(ctx, fstest.MapFS{
		"001_broken.sql": {Data: []byte("CREATE TABLE ok (id INTEGER); NOT VALID SQL;")},
	})
	require.Error(t, err)

	applied, err := m.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}
