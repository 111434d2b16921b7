package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromCreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "netpulse.db"), cfg.DatabasePath)
	assert.Equal(t, 30, cfg.DefaultPingIntervalSeconds)
	assert.Equal(t, 3, cfg.AlertThresholds.ConsecutiveFailuresForDown)
	assert.True(t, cfg.RestAPIEnabled)
	assert.Equal(t, 8080, cfg.RestAPIPort)

	// First load writes the file.
	_, err = os.Stat(filepath.Join(dir, configFileName))
	require.NoError(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	cfg.RetentionDays = 90
	cfg.WebhooksEnabled = true
	cfg.WebhookURLs = []string{"https://hooks.example.com/np"}
	require.NoError(t, cfg.Save())

	again, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, 90, again.RetentionDays)
	assert.True(t, again.WebhooksEnabled)
	assert.Equal(t, cfg.WebhookURLs, again.WebhookURLs)
}

func TestLoadNormalizesOutOfRangeValues(t *testing.T) {
	dir := t.TempDir()
	raw := map[string]any{
		"defaultPingIntervalSeconds": 0,
		"retentionDays":              -5,
		"restApiPort":                99999,
		"portScan":                   map[string]any{"maxConcurrency": 0, "timeoutMs": 0},
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), data, 0o600))

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.DefaultPingIntervalSeconds)
	assert.Equal(t, 1, cfg.RetentionDays)
	assert.Equal(t, 8080, cfg.RestAPIPort)
	assert.Equal(t, 1, cfg.PortScan.MaxConcurrency)
	assert.Equal(t, 1000, cfg.PortScan.TimeoutMs)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NETPULSE_DB_PATH", "/tmp/override.db")
	t.Setenv("NETPULSE_API_PORT", "9090")
	t.Setenv("NETPULSE_LOG_LEVEL", "debug")
	t.Setenv("NETPULSE_API_ENABLED", "off")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.DatabasePath)
	assert.Equal(t, 9090, cfg.RestAPIPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.RestAPIEnabled)
}

func TestEnvOverrideRejectsBadPort(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NETPULSE_API_PORT", "not-a-port")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.RestAPIPort)
}

func TestSecretStore(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenSecretStore(dir)
	require.NoError(t, err)
	assert.Empty(t, s.Get(SecretRestAPIKey))

	require.NoError(t, s.Set(SecretRestAPIKey, "hunter2"))

	// Survives reopen.
	again, err := OpenSecretStore(dir)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", again.Get(SecretRestAPIKey))

	// Owner-only permissions on the store file.
	info, err := os.Stat(filepath.Join(dir, secretsFileName))
	require.NoError(t, err)
	assert.EqualValues(t, 0o600, info.Mode().Perm())

	// Empty value deletes.
	require.NoError(t, again.Set(SecretRestAPIKey, ""))
	assert.Empty(t, again.Get(SecretRestAPIKey))
}

func TestWatcherSeesAtomicSave(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	w := NewWatcher(dir, func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	cfg.RetentionDays = 7
	require.NoError(t, cfg.Save())

	select {
	case fresh := <-changed:
		assert.Equal(t, 7, fresh.RetentionDays)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never delivered the reloaded config")
	}
}
