package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"lavamon/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	assert.Equal(t, defaultTraceID, TraceID(context.Background()))
	assert.Equal(t, defaultTraceID, TraceID(nil))

	ctx := WithTraceID(context.Background())
	id := TraceID(ctx)
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, TraceID(WithTraceID(context.Background())), "each pass gets its own id")
}

func TestInitWith_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lavamon.log")
	err := InitWith(config.LoggerConfig{
		Level:  "debug",
		Output: "file",
		File:   config.LoggerFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1},
	})
	require.NoError(t, err)

	InfoCtx(WithTraceID(context.Background()), "sampling queue %s", "normal")
	_ = Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sampling queue normal")
}
