package cli

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recorder/internal/store"
	"github.com/roach88/recorder/internal/testutil"
)

const testTimeout = 10 * time.Second

func tempDBURL(t *testing.T) string {
	t.Helper()
	return testutil.SQLiteURL(t)
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func openStore(t *testing.T, url string) *store.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	db, err := store.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *store.DB, table string) int64 {
	t.Helper()
	counts, err := db.Counts(context.Background())
	require.NoError(t, err)
	return counts[table]
}
