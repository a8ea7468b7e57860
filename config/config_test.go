package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewnet/vendcore/config"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "vendcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "./data/vendcore.db", cfg.Database.Path)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval.Duration)
	assert.Equal(t, 4*time.Second, cfg.MonitorTimeout())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":9000"

[database]
path = "/tmp/test.db"

[monitor]
base_url = "http://monitor.internal:7000"
timeout = "1500ms"

[reconcile]
enabled = false
interval = "5m"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "http://monitor.internal:7000", cfg.Monitor.BaseURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.MonitorTimeout())
	assert.False(t, cfg.Reconcile.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval.Duration)
}

func TestLoad_PartialFileKeepsOtherDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":3000"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Listen)
	assert.Equal(t, "./data/vendcore.db", cfg.Database.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/vendcore.toml")
	require.Error(t, err)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
[monitor]
timeout = "soon"
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsBlankListen(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ""
`)
	_, err := config.Load(path)
	require.Error(t, err)
}
