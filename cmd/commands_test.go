package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lavamon/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 2, run([]string{"bogus"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: lavamon")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"tables"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "lavamon tables <class>")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"tables", "disk"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown entity class")

	assert.Equal(t, 0, run([]string{"sample", "--help"}, &stdout, &stderr))
}

func TestSelectedClasses(t *testing.T) {
	classes, err := selectedClasses(map[model.Class]bool{model.ClassUser: true, model.ClassJob: true}, []string{"queue"})
	require.NoError(t, err)
	assert.Equal(t, []model.Class{model.ClassJob, model.ClassUser}, classes)

	classes, err = selectedClasses(map[model.Class]bool{}, []string{"queue", "load"})
	require.NoError(t, err)
	assert.Equal(t, []model.Class{model.ClassQueue, model.ClassLoad}, classes)
}

func TestRun_SampleAndReadBack(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0755))

	busers := "#!/bin/sh\n" +
		"echo 'USER/GROUP          JL/P    MAX  NJOBS   PEND    RUN  SSUSP  USUSP    RSV'\n" +
		"echo 'alice                  -      -      1      0      1      0      0      0'\n"
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "busers"), []byte(busers), 0755))

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := "store:\n  db_path: " + filepath.Join(dir, "db") + "\n" +
		"openlava:\n  bin_dir: " + binDir + "\n" +
		"logger:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"sample", "-c", cfgPath, "-u"}, &stdout, &stderr), stderr.String())
	assert.True(t, strings.HasPrefix(stdout.String(), "user"), stdout.String())
	assert.Contains(t, stdout.String(), "1 written")

	stdout.Reset()
	require.Equal(t, 0, run([]string{"tables", "-c", cfgPath, "user"}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "user_alice")

	stdout.Reset()
	require.Equal(t, 0, run([]string{"tables", "-c", cfgPath, "user", "user_alice", "--keys", "NJOBS"}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), `"NJOBS"`)
	assert.NotContains(t, stdout.String(), `"PEND"`)

	assert.Equal(t, 1, run([]string{"tables", "-c", cfgPath, "host"}, &stdout, &stderr), "missing store")
}
