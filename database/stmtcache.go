package database

import (
	"database/sql"
	"sync"
)

// to cache prepared sql statement, which maps query string to stmt.
type StmtCache struct {
	db *sql.DB
	m  sync.Map
}

func NewStmtCache(db *sql.DB) *StmtCache {
	return &StmtCache{db: db}
}

func (sc *StmtCache) Prepare(query string) (*sql.Stmt, error) {
	cached, _ := sc.m.Load(query)
	if cached == nil {
		stmt, err := sc.db.Prepare(query)
		if err != nil {
			return nil, err
		}
		sc.m.Store(query, stmt)
		cached = stmt
	}
	return cached.(*sql.Stmt), nil
}

func (sc *StmtCache) MustPrepare(query string) *sql.Stmt {
	stmt, err := sc.Prepare(query)
	if err != nil {
		panic(err)
	}
	return stmt
}

// PrepareTx prepares the statement on the transaction's own connection.
// Preparing via the pool instead would block when the pool is capped at
// the single connection the transaction already holds. The returned
// stmt is closed together with the transaction.
func (sc *StmtCache) PrepareTx(tx *sql.Tx, query string) (*sql.Stmt, error) {
	return tx.Prepare(query)
}

// Begin starts a transaction on the underlying db.
func (sc *StmtCache) Begin() (*sql.Tx, error) {
	return sc.db.Begin()
}

func (sc *StmtCache) Clear() {
	sc.m.Range(func(k, v interface{}) bool {
		_ = v.(*sql.Stmt).Close()
		sc.m.Delete(k)
		return true
	})
}
