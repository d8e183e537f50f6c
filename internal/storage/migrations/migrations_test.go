package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/010_later.sql":  {Data: []byte("SELECT 10;")},
		"sql/002_second.sql": {Data: []byte("SELECT 2;")},
		"sql/001_first.sql":  {Data: []byte("SELECT 1;")},
		"sql/003_empty.sql":  {Data: []byte("  \n")},
		"sql/README.md":      {Data: []byte("ignored")},
	}

	got, err := Load(fsys, "sql")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{got[0].Version, got[1].Version, got[2].Version})
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "SELECT 10;", got[2].SQL)
}

func TestLoad_RejectsBadNames(t *testing.T) {
	for name, file := range map[string]string{
		"no prefix":    "sql/documents.sql",
		"zero version": "sql/000_zero.sql",
		"no name":      "sql/004_.sql",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(fstest.MapFS{file: {Data: []byte("SELECT 1;")}}, "sql")
			assert.Error(t, err)
		})
	}
}

func TestLoad_RejectsDuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/001_a.sql": {Data: []byte("SELECT 1;")},
		"sql/1_b.sql":   {Data: []byte("SELECT 1;")},
	}
	_, err := Load(fsys, "sql")
	assert.ErrorContains(t, err, "version 1")
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}
	got := Pending(all, map[int]bool{1: true, 3: true})
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Version)
	assert.Empty(t, Pending(all, map[int]bool{1: true, 2: true, 3: true}))
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	pg, err := Postgres()
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Equal(t, 1, pg[0].Version)

	ch, err := Clickhouse()
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		assert.NoError(t, validateNoSemicolonInStrings(m.SQL), "migration %d", m.Version)
		assert.NotEmpty(t, splitStatements(m.SQL))
	}
}

func TestSplitStatements(t *testing.T) {
	sql := "-- header\nCREATE TABLE a (x Int8);\n\n  -- note\nCREATE TABLE b (y Int8)\nENGINE = Memory;\n"
	assert.Equal(t, []string{
		"CREATE TABLE a (x Int8)",
		"CREATE TABLE b (y Int8)\nENGINE = Memory",
	}, splitStatements(sql))
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'it''s'; SELECT 1;"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b';"))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/ledger?dial_timeout=5s")
	require.NoError(t, err)
	assert.Equal(t, "ledger", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
