package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recorder/internal/recorder"
	"github.com/roach88/recorder/internal/store"
)

func TestLoad(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewOsFs())

	cfg, err := Load(fs, "testdata/recorder.yaml")
	require.NoError(t, err)

	assert.Equal(t, "sqlite:///var/lib/recorder/recorder.db", cfg.DBURL)
	assert.Equal(t, 5, cfg.DBMaxRetries)
	assert.Equal(t, time.Second, cfg.CommitInterval)
	assert.Equal(t, 30, cfg.KeepDays)
	assert.False(t, cfg.AutoRepack)
	assert.True(t, cfg.AutoPurge, "unset keys keep their defaults")
	assert.Equal(t, time.Minute, cfg.LockTimeout)
	assert.Equal(t, recorder.DefaultMaxQueueBacklog, cfg.MaxQueueBacklog)
	assert.Equal(t, []string{"automation", "updater"}, cfg.Filter.ExcludeDomains)
	assert.Equal(t, []string{"sensor.*_rssi"}, cfg.Filter.ExcludeEntityGlobs)
	assert.Equal(t, []string{"next_rising", "next_setting"}, cfg.ExcludeAttributesByDomain["sun"])
}

func TestLoad_Empty(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "empty.yaml", nil, 0o644))

	cfg, err := Load(fs, "empty.yaml")
	require.NoError(t, err)
	assert.Equal(t, recorder.DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"unknown.yaml":  "db_urll: sqlite://\n",
		"dialect.yaml":  "db_url: mysql://localhost/db\n",
		"ratio.yaml":    "lock_overflow_ratio: 1.5\n",
		"duration.yaml": "commit_interval: soon\n",
	}
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(body), 0o644))
	}

	_, err := Load(fs, "missing.yaml")
	assert.Error(t, err)

	for name := range files {
		t.Run(name, func(t *testing.T) {
			_, err := Load(fs, name)
			assert.Error(t, err)
		})
	}

	_, err = Load(fs, "dialect.yaml")
	assert.ErrorIs(t, err, store.ErrUnsupportedDialect)
}
