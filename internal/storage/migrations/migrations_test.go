package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_OrdersAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql":   {Data: []byte("CREATE TABLE b ();")},
		"pg/001_a.sql":   {Data: []byte("CREATE TABLE a ();")},
		"pg/003_nop.sql": {Data: []byte("  \n")},
		"pg/README.md":   {Data: []byte("not sql")},
	}

	got, err := Load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_a", got[0].Version)
	assert.Equal(t, "002_b", got[1].Version)
}

func TestLoad_EmbeddedSchemas(t *testing.T) {
	pg, err := Load(postgresFS, "postgres")
	require.NoError(t, err)
	assert.NotEmpty(t, pg)

	ch, err := Load(clickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		_, err := Statements(m.SQL)
		assert.NoError(t, err, m.Version)
	}
}

func TestStatements(t *testing.T) {
	got, err := Statements(`
-- leading comment; with a semicolon
CREATE TABLE a (x String DEFAULT 'it''s');
CREATE TABLE b (y UInt8)
`)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CREATE TABLE a (x String DEFAULT 'it''s')",
		"CREATE TABLE b (y UInt8)",
	}, got)
}

func TestStatements_RejectsQuotedSemicolon(t *testing.T) {
	_, err := Statements(`INSERT INTO t VALUES ('a;b');`)
	assert.ErrorIs(t, err, errQuotedSemicolon)
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: "001"}, {Version: "002"}, {Version: "003"}}
	got := pending(all, map[string]bool{"001": true, "003": true})
	assert.Equal(t, []Migration{{Version: "002"}}, got)
}
