package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestDB opens a file database in a temp dir with the latest schema.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db := openEmptyDB(t)
	require.NoError(t, db.CreateSchema(context.Background()))
	return db
}

// openEmptyDB opens a file database without creating any tables.
func openEmptyDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(context.Background(), "sqlite:///"+path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.SQL().QueryRow(query, args...).Scan(&n))
	return n
}
