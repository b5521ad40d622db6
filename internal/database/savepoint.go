package database

import (
	"database/sql"
	"fmt"
	"sync/atomic"
)

// savepointSeq guarantees unique savepoint names even when two Savepoint
// helpers are nested inside the same *sql.Tx (per-provider savepoint inside
// the sync orchestrator's single top-level transaction, per-account
// savepoint inside that, activity-merge and lot-reconciliation savepoints
// inside that).
var savepointSeq uint64

// Savepoint wraps a SQL SAVEPOINT so a nested unit of work can be rolled
// back without aborting the enclosing transaction. database/sql.Tx has no
// native nested-transaction API, so this emulates one with a counter and
// explicit SAVEPOINT / ROLLBACK TO / RELEASE statements.
type Savepoint struct {
	tx   *sql.Tx
	name string
}

// NewSavepoint opens a new savepoint inside tx.
func NewSavepoint(tx *sql.Tx) (*Savepoint, error) {
	n := atomic.AddUint64(&savepointSeq, 1)
	name := fmt.Sprintf("sp_%d", n)
	if _, err := tx.Exec("SAVEPOINT " + name); err != nil {
		return nil, fmt.Errorf("create savepoint %s: %w", name, err)
	}
	return &Savepoint{tx: tx, name: name}, nil
}

// Rollback rolls back to the savepoint, undoing everything done since it
// was created, without affecting the enclosing transaction.
func (s *Savepoint) Rollback() error {
	if _, err := s.tx.Exec("ROLLBACK TO SAVEPOINT " + s.name); err != nil {
		return fmt.Errorf("rollback savepoint %s: %w", s.name, err)
	}
	return nil
}

// Release discards the savepoint, keeping its changes as part of the
// enclosing transaction.
func (s *Savepoint) Release() error {
	if _, err := s.tx.Exec("RELEASE SAVEPOINT " + s.name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", s.name, err)
	}
	return nil
}

// WithSavepoint runs fn inside a new savepoint: on error, rolls back to the
// savepoint (the enclosing transaction is untouched) and returns the error;
// on success, releases the savepoint. This is the building block for every
// best-effort nested step in the sync orchestrator (per-provider,
// per-account, activity-merge, lot-reconciliation).
func WithSavepoint(tx *sql.Tx, fn func() error) error {
	sp, err := NewSavepoint(tx)
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rbErr := sp.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (and rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return sp.Release()
}
