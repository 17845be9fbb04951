package database

import (
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareTxWithSingleConnection(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)`)
	require.NoError(t, err)

	sc := NewStmtCache(db)
	defer sc.Clear()

	tx, err := sc.Begin()
	require.NoError(t, err)
	stmt, err := sc.PrepareTx(tx, `INSERT INTO kv (k, v) VALUES (?, ?)`)
	require.NoError(t, err)
	_, err = stmt.Exec("alpha", "1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	read, err := sc.Prepare(`SELECT v FROM kv WHERE k = ?`)
	require.NoError(t, err)
	var v string
	require.NoError(t, read.QueryRow("alpha").Scan(&v))
	assert.Equal(t, "1", v)
}
