package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStatusCommand() *cobra.Command {
	return newStatusCommand(&StatusOptions{
		RootOptions: &RootOptions{Format: "json"},
		Fs:          afero.NewOsFs(),
	})
}

func TestStatus_CurrentDatabase(t *testing.T) {
	url := tempDBURL(t)
	db := openStore(t, url)
	require.NoError(t, db.CreateSchema(context.Background()))

	out, err := execute(t, newTestStatusCommand(), nil, "--db", url)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   StatusReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	report := resp.Data
	assert.Equal(t, "sqlite", report.Dialect)
	assert.True(t, report.Valid)
	assert.False(t, report.Fresh)
	assert.Equal(t, report.SupportedVersion, report.SchemaVersion)
	assert.Positive(t, report.SizeBytes)
	assert.Contains(t, report.Counts, "states")
	assert.Zero(t, report.Counts["events"])
}

func TestStatus_LegacyDatabaseSkipsCounts(t *testing.T) {
	url := tempDBURL(t)
	db := openStore(t, url)
	require.NoError(t, db.CreateLegacySchema(context.Background()))

	out, err := execute(t, newTestStatusCommand(), nil, "--db", url)
	require.NoError(t, err)

	var resp struct {
		Data StatusReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Data.Valid)
	assert.Less(t, resp.Data.SchemaVersion, resp.Data.SupportedVersion)
	assert.Empty(t, resp.Data.Counts)
}

func TestStatus_MissingDatabase(t *testing.T) {
	url := "sqlite:///" + filepath.Join(t.TempDir(), "absent.db")

	out, err := execute(t, newTestStatusCommand(), nil, "--db", url)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, CodeDatabase)
}

func TestStatus_UnsupportedURL(t *testing.T) {
	_, err := execute(t, newTestStatusCommand(), nil, "--db", "mysql://db/recorder")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatus_RequiresDB(t *testing.T) {
	_, err := execute(t, newTestStatusCommand(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}

func TestStatusReport_Text(t *testing.T) {
	report := StatusReport{
		DB:               "sqlite:///var/lib/recorder/home.db",
		Dialect:          "sqlite",
		SchemaVersion:    5,
		SupportedVersion: 5,
		Valid:            true,
		SizeBytes:        1_572_864,
		Counts: map[string]int64{
			"states_meta": 42,
			"events":      12345,
			"states":      1234567,
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "status_text", []byte(report.String()))
}

func TestStatusReport_TextMigrationNeeded(t *testing.T) {
	report := StatusReport{
		DB:                    "postgresql://recorder@db/home",
		Dialect:               "postgresql",
		SchemaVersion:         3,
		SupportedVersion:      5,
		LiveMigrationPossible: false,
	}
	assert.Equal(t,
		"database:        postgresql://recorder@db/home (postgresql)\n"+
			"schema:          3 (needs blocking migration to 5)",
		report.String())
}
