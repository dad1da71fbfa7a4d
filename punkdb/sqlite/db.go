// Package sqlite contains the hand-maintained query layer of the punk
// registry database. The structure mirrors what sqlc would generate: a
// DBTX abstraction over *sql.DB and *sql.Tx, a Queries struct bound to
// one of the two, and one method per named query.
package sqlite

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx that
// the query methods rely on.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result,
		error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows,
		error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// New binds a fresh Queries instance to the given database or
// transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries exposes every named query of the registry schema over the
// bound DBTX.
type Queries struct {
	db DBTX
}

// WithTx rebinds the queries to an open transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}
