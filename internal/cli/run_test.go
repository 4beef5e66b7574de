package cli

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recorder/internal/store"
)

func testRunOptions(reg *prometheus.Registry) *RunOptions {
	return &RunOptions{
		RootOptions:     &RootOptions{Format: "text"},
		Registerer:      reg,
		Gatherer:        reg,
		ShutdownTimeout: testTimeout,
	}
}

func tableCount(url, table string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	db, err := store.Open(ctx, url)
	if err != nil {
		return -1
	}
	defer db.Close()
	counts, err := db.Counts(ctx)
	if err != nil {
		return -1
	}
	return counts[table]
}

func TestRun_RecordsStdinUntilCancelled(t *testing.T) {
	url := tempDBURL(t)
	cfgPath := filepath.Join(t.TempDir(), "recorder.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("commit_interval: 0s\n"), 0o644))

	reg := prometheus.NewRegistry()
	cmd := newRunCommand(testRunOptions(reg))
	cmd.SetIn(strings.NewReader(kitchenEvents))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", cfgPath, "--db", url})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return tableCount(url, "states") == 2 && tableCount(url, "events") == 1
	}, testTimeout, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("run did not return after cancellation")
	}

	assert.Equal(t, int64(1), tableCount(url, "recorder_runs"))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRun_InvalidConfig(t *testing.T) {
	cmd := newRunCommand(testRunOptions(prometheus.NewRegistry()))
	_, err := execute(t, cmd, strings.NewReader(""), "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_UnsupportedDatabase(t *testing.T) {
	cmd := newRunCommand(testRunOptions(prometheus.NewRegistry()))
	_, err := execute(t, cmd, strings.NewReader(""), "--db", "oracle://db/recorder")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServeMetrics(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "recorder_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- serveMetrics(ctx, addr, reg) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, testTimeout, 10*time.Millisecond)
	assert.Contains(t, body, "recorder_test_total 3")

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("metrics server did not stop")
	}
}
