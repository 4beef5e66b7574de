package cli

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oldEvents = `{"event_type":"state_changed","entity_id":"sensor.temp","new_state":{"state":"20.5","last_updated":"2020-01-01T00:00:00Z"}}
{"event_type":"state_changed","entity_id":"sensor.temp","new_state":{"state":"21","last_updated":"2020-01-01T00:05:00Z"}}
{"event_type":"call_service","time_fired":"2020-01-01T00:06:00Z","data":{"service":"reload"}}
`

func TestPurge_RemovesOldHistory(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/old.ndjson", []byte(oldEvents), 0o644))
	url := tempDBURL(t)

	_, err := execute(t, newTestRecordCommand(fs), nil, "--db", url, "/in/old.ndjson")
	require.NoError(t, err)

	out, err := execute(t, NewPurgeCommand(&RootOptions{Format: "json"}), nil,
		"--db", url, "--keep-days", "7", "--repack")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   PurgeSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, PurgeSummary{DB: url, KeepDays: 7, Repacked: true}, resp.Data)

	db := openStore(t, url)
	assert.Zero(t, countRows(t, db, "states"))
	assert.Zero(t, countRows(t, db, "events"))
	assert.Zero(t, countRows(t, db, "event_data"))
}

func TestPurge_InvalidKeepDays(t *testing.T) {
	_, err := execute(t, NewPurgeCommand(&RootOptions{Format: "text"}), nil,
		"--db", tempDBURL(t), "--keep-days", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPurge_RequiresKeepDays(t *testing.T) {
	_, err := execute(t, NewPurgeCommand(&RootOptions{Format: "text"}), nil, "--db", tempDBURL(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"keep-days"`)
}
