package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tillsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  url: https://pos.example.com/api
  token: secret
store:
  path: /var/lib/tillsync/till.db
sync:
  interval: 1m
  min_gap: 5s
  timeout: 15s
retention:
  keep: 500
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://pos.example.com/api", cfg.ServerURL)
	assert.Equal(t, "secret", cfg.ServerToken)
	assert.Equal(t, "/var/lib/tillsync/till.db", cfg.StorePath)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, 5*time.Second, cfg.MinSyncGap)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 500, cfg.RetentionKeep)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  url: http://localhost:8080
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "till.db", cfg.StorePath)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 3*time.Second, cfg.MinSyncGap)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 200, cfg.RetentionKeep)
}

func TestEnvOverlayWins(t *testing.T) {
	path := writeConfig(t, `
server:
  url: http://file.example.com
sync:
  interval: 1m
`)
	t.Setenv("TILLSYNC_SERVER_URL", "http://env.example.com")
	t.Setenv("TILLSYNC_SYNC_INTERVAL", "2m")
	t.Setenv("TILLSYNC_RETENTION_KEEP", "50")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env.example.com", cfg.ServerURL)
	assert.Equal(t, 2*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 50, cfg.RetentionKeep)
}

func TestMissingServerURLRejected(t *testing.T) {
	path := writeConfig(t, `
store:
  path: till.db
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.url")
}

func TestBadLogLevelRejected(t *testing.T) {
	path := writeConfig(t, `
server:
  url: http://localhost:8080
log:
  level: loud
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestBadDurationRejected(t *testing.T) {
	path := writeConfig(t, `
server:
  url: http://localhost:8080
sync:
  interval: soon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
