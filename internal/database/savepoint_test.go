package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Conn().Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func TestWithSavepoint_RollbackKeepsEnclosingTransaction(t *testing.T) {
	db := newTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('outer')`); err != nil {
			return err
		}
		spErr := WithSavepoint(tx, func() error {
			if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('inner')`); err != nil {
				return err
			}
			return fmt.Errorf("boom")
		})
		assert.EqualError(t, spErr, "boom")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, countItems(t, db))
	var name string
	require.NoError(t, db.Conn().QueryRow(`SELECT name FROM items`).Scan(&name))
	assert.Equal(t, "outer", name)
}

func TestWithSavepoint_NestedRollbackIsContained(t *testing.T) {
	db := newTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return WithSavepoint(tx, func() error {
			if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('provider')`); err != nil {
				return err
			}
			spErr := WithSavepoint(tx, func() error {
				if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('account')`); err != nil {
					return err
				}
				return fmt.Errorf("account write failed")
			})
			assert.Error(t, spErr)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, db))
}

func TestWithSavepoint_ReleaseKeepsChanges(t *testing.T) {
	db := newTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		return WithSavepoint(tx, func() error {
			_, err := tx.Exec(`INSERT INTO items (name) VALUES ('kept')`)
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, db))
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('doomed')`); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, countItems(t, db))
}

func TestWithTransaction_ConvertsPanicToError(t *testing.T) {
	db := newTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items (name) VALUES ('doomed')`); err != nil {
			return err
		}
		panic("adapter blew up")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter blew up")
	assert.Equal(t, 0, countItems(t, db))
}
