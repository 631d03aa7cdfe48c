package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("store:\n  db_path: /var/lavamon/db\n"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lavamon/db", cfg.Store.DBPath)
	assert.Equal(t, "/var/lavamon/db/resource", cfg.Store.ResourcePath)
	assert.Equal(t, 300, cfg.Sampling.Interval)
	assert.Equal(t, []string{"job", "queue", "host", "load", "user"}, cfg.Sampling.Classes)
	assert.Equal(t, 5, cfg.Sampling.ToleranceSeconds)
	assert.Equal(t, 3600, cfg.Staleness.Job)
	assert.Equal(t, 864000, cfg.Staleness.Queue)
	assert.Equal(t, 3600, cfg.Staleness.Resource)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Output)
}

func TestParse_KeepsExplicitValues(t *testing.T) {
	data := []byte(`
sampling:
  interval: 60
  classes: [queue, host]
staleness:
  job: 86400
  queue: -1
logger:
  level: debug
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Sampling.Interval)
	assert.Equal(t, []string{"queue", "host"}, cfg.Sampling.Classes)
	assert.Equal(t, 86400, cfg.Staleness.Job)
	assert.Equal(t, -1, cfg.Staleness.Queue, "negative staleness disables eviction and must survive defaults")
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestParse_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unknown class", data: "sampling:\n  classes: [job, disk]\n"},
		{name: "unknown log level", data: "logger:\n  level: loud\n"},
		{name: "unknown log output", data: "logger:\n  output: syslog\n"},
		{name: "port out of range", data: "server:\n  port: 70000\n"},
		{name: "broken yaml", data: "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestInit_ReadsConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  db_path: "+dir+"\n"), 0644))

	t.Setenv("CONFIG_PATH", path)
	require.NoError(t, Init())
	require.NotNil(t, GlobalConfig)
	assert.Equal(t, dir, GlobalConfig.Store.DBPath)
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, time.Hour, Seconds(3600))
	assert.Equal(t, time.Duration(0), Seconds(0))
}
