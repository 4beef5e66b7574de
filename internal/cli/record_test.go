package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kitchenEvents = `{"event_type":"state_changed","entity_id":"light.kitchen","new_state":{"state":"on","attributes":{"brightness":200},"last_updated":"2026-03-01T11:00:00Z"}}
{"event_type":"state_changed","entity_id":"light.kitchen","new_state":{"state":"off","attributes":{"brightness":200},"last_updated":"2026-03-01T11:05:00Z"}}
{"event_type":"call_service","data":{"domain":"light","service":"turn_off"}}
`

func newTestRecordCommand(fs afero.Fs) *cobra.Command {
	return newRecordCommand(&RecordOptions{
		RootOptions: &RootOptions{Format: "json"},
		Fs:          fs,
	})
}

func TestRecord_WritesEvents(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/kitchen.ndjson", []byte(kitchenEvents), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/empty.ndjson", nil, 0o644))
	url := tempDBURL(t)

	out, err := execute(t, newTestRecordCommand(fs), nil,
		"--db", url, "/in/kitchen.ndjson", "/in/empty.ndjson")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   RecordSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, RecordSummary{Files: 2, Events: 3, Accepted: 3, DB: url}, resp.Data)

	db := openStore(t, url)
	assert.Equal(t, int64(2), countRows(t, db, "states"))
	assert.Equal(t, int64(1), countRows(t, db, "states_meta"))
	// Both states share one attributes row.
	assert.Equal(t, int64(1), countRows(t, db, "state_attributes"))
	assert.Equal(t, int64(1), countRows(t, db, "events"))
	assert.Equal(t, int64(1), countRows(t, db, "recorder_runs"))
}

func TestRecord_MissingFile(t *testing.T) {
	_, err := execute(t, newTestRecordCommand(afero.NewMemMapFs()), nil,
		"--db", tempDBURL(t), "/in/absent.ndjson")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRecord_MalformedInput(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/bad.ndjson", []byte("{\"event_type\":\"a\"}\n{oops\n"), 0o644))

	out, err := execute(t, newTestRecordCommand(fs), nil, "--db", tempDBURL(t), "/in/bad.ndjson")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "event 2")
}

func TestRecord_RequiresFiles(t *testing.T) {
	_, err := execute(t, newTestRecordCommand(afero.NewMemMapFs()), nil, "--db", tempDBURL(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestRecord_FilteredEventsAreDropped(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/kitchen.ndjson", []byte(kitchenEvents), 0o644))
	url := tempDBURL(t)
	cfgPath := filepath.Join(t.TempDir(), "recorder.yaml")
	cfg := "db_url: " + url + "\nfilter:\n  exclude_entities: [light.kitchen]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	out, err := execute(t, newTestRecordCommand(fs), nil, "--config", cfgPath, "/in/kitchen.ndjson")
	require.NoError(t, err)

	var resp struct {
		Data RecordSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 3, resp.Data.Events)
	assert.Equal(t, 1, resp.Data.Accepted)
	assert.Equal(t, 2, resp.Data.Dropped)

	db := openStore(t, url)
	assert.Zero(t, countRows(t, db, "states"))
	assert.Equal(t, int64(1), countRows(t, db, "events"))
}
