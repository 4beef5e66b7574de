package testutil

import (
	"path/filepath"
	"testing"
)

// SQLiteURL returns a connection URL for a database file in a fresh
// per-test directory. The file does not exist yet.
func SQLiteURL(t testing.TB) string {
	t.Helper()
	return "sqlite:///" + filepath.Join(t.TempDir(), "recorder.db")
}
