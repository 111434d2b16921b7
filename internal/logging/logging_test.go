package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netpulse.log")

	logger := Init(Config{
		Format:   "json",
		Level:    "info",
		FilePath: path,
	})
	logger.Info().Str("probe", "icmp").Msg("file sink check")
	Shutdown()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file sink check")
	assert.Contains(t, string(data), `"probe":"icmp"`)
}

func TestRollingWriterRotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netpulse.log")

	w := &rollingFileWriter{path: path, maxBytes: 64, maxAge: time.Hour}
	require.NoError(t, w.openLocked())

	line := make([]byte, 60)
	_, err := w.Write(line)
	require.NoError(t, err)
	_, err = w.Write(line)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rotated, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Len(t, rotated, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 60, info.Size())
}
