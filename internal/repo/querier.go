// Package repo provides hand-written SQL repositories for every entity in
// internal/domain, one file per entity: a small struct holding a
// zerolog.Logger, methods taking an explicit Querier and returning
// ([]T, error). Repositories take a Querier instead of holding a fixed
// transaction, because the sync orchestrator runs every write inside one
// top-level *sql.Tx while the HTTP read surface queries the *sql.DB
// directly.
package repo

import "database/sql"

// Querier is satisfied by both *sql.DB and *sql.Tx, letting every repository
// method run either inside the orchestrator's transaction or standalone
// against the pool for read-only HTTP handlers.
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}
