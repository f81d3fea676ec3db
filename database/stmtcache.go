package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// StmtCache keeps prepared statements by query text,
// each query is prepared once for the lifetime of the cache.
type StmtCache struct {
	db *sql.DB

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

func NewStmtCache(db *sql.DB) *StmtCache {
	return &StmtCache{db: db, stmts: make(map[string]*sql.Stmt)}
}

func (sc *StmtCache) Prepare(query string) (*sql.Stmt, error) {
	return sc.PrepareContext(context.Background(), query)
}

func (sc *StmtCache) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if stmt, ok := sc.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := sc.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sc.stmts[query] = stmt
	return stmt, nil
}

// Len is the number of cached statements.
func (sc *StmtCache) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.stmts)
}

// Clear closes and forgets every cached statement.
func (sc *StmtCache) Clear() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var errs []error
	for query, stmt := range sc.stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(sc.stmts, query)
	}
	return errors.Join(errs...)
}
