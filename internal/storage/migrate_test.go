package storage

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigratorUpAppliesEmbeddedMigrations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m, err := NewMigrator(s)
	require.NoError(t, err)
	defer m.Close()

	applied, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	v, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	rows, err := s.Query(ctx, "SELECT id FROM categories WHERE is_default = 1 ORDER BY id")
	require.NoError(t, err)
	assert.Len(t, rows, 8)

	for _, table := range []string{"expenses", "incomes", "sync_queue"} {
		_, err := s.Query(ctx, "SELECT * FROM "+table+" LIMIT 1")
		require.NoError(t, err, table)
	}

	// Re-running is a no-op and does not duplicate seeds.
	applied, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	rows, err = s.Query(ctx, "SELECT COUNT(*) AS n FROM migrations")
	require.NoError(t, err)
	n, _ := rows[0].Int64("n")
	assert.Equal(t, int64(3), n)
}

func TestMigratorStopsAtFailure(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	fsys := fstest.MapFS{
		"m/0001_one.up.sql":   {Data: []byte("CREATE TABLE one (id INTEGER);")},
		"m/0002_two.up.sql":   {Data: []byte("CREATE TABLE two (id INTEGER);\nINSERT INTO nowhere VALUES (1);")},
		"m/0003_three.up.sql": {Data: []byte("CREATE TABLE three (id INTEGER);")},
	}
	m, err := NewMigratorFS(s, fsys, "m")
	require.NoError(t, err)

	applied, err := m.Up(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, applied)

	v, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Migration 2 rolled back as a whole.
	_, err = s.Query(ctx, "SELECT * FROM two")
	assert.Error(t, err)
	_, err = s.Query(ctx, "SELECT * FROM three")
	assert.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	script := "-- header\nCREATE TABLE a (x TEXT);\n\n  -- note\nINSERT INTO a VALUES ('x');\n"
	stmts := SplitStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x TEXT)", stmts[0].SQL)
	assert.Equal(t, "INSERT INTO a VALUES ('x')", stmts[1].SQL)
}
