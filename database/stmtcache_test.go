package database

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStmtCache(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	sc := NewStmtCache(db)

	insert, err := sc.Prepare(`INSERT INTO kv (k, v) VALUES (?, ?)`)
	require.NoError(t, err)
	again, err := sc.Prepare(`INSERT INTO kv (k, v) VALUES (?, ?)`)
	require.NoError(t, err)
	assert.Same(t, insert, again)
	assert.Equal(t, 1, sc.Len())

	_, err = insert.Exec("a", "1")
	require.NoError(t, err)

	var v string
	sel, err := sc.Prepare(`SELECT v FROM kv WHERE k = ?`)
	require.NoError(t, err)
	require.NoError(t, sel.QueryRow("a").Scan(&v))
	assert.Equal(t, "1", v)
	assert.Equal(t, 2, sc.Len())

	_, err = sc.Prepare(`SELECT nope FROM nowhere`)
	assert.Error(t, err)
	assert.Equal(t, 2, sc.Len())

	require.NoError(t, sc.Clear())
	assert.Equal(t, 0, sc.Len())
}
