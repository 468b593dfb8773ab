package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talemon/pagewatch/internal/storage"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 100, cfg.Scheduler.ClaimBatchSize)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.ZombieTimeout)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.SweepInterval)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.NavigationTimeout)
	assert.Equal(t, 2, cfg.Domain.MaxConcurrent)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, storage.DefaultTimestampLayout, cfg.Storage.PathLayout)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
scheduler:
  poll_interval: 5s
  claim_batch_size: 25
  concurrency: 8
  heartbeat_interval: 10s
  zombie_timeout: 120s
  sweep_interval: 20s
  navigation_timeout: 45s
browser:
  user_agent: custom-bot/1.0
  max_sessions: 8
domain:
  max_concurrent: 3
  rps: 0.5
storage:
  backend: gcs
  path_layout: "%Y%m%d.%H%M%S"
  gcs:
    bucket: snapshots
    prefix: prod
db:
  dsn: postgres://localhost/pagewatch
  max_conns: 16
pubsub:
  project_id: my-project
  topic_id: page-changes
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 25, cfg.Scheduler.ClaimBatchSize)
	assert.Equal(t, 8, cfg.Scheduler.Concurrency)
	assert.Equal(t, 20*time.Second, cfg.Scheduler.SweepInterval)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.NavigationTimeout)
	assert.Equal(t, "%Y%m%d.%H%M%S", cfg.Storage.PathLayout)
	assert.Equal(t, "custom-bot/1.0", cfg.Browser.UserAgent)
	assert.Equal(t, 3, cfg.Domain.MaxConcurrent)
	assert.Equal(t, "gcs", cfg.Storage.Backend)
	assert.Equal(t, "snapshots", cfg.Storage.GCS.Bucket)
	assert.Equal(t, int32(16), cfg.DB.MaxConns)
	assert.Equal(t, "page-changes", cfg.PubSub.TopicID)
}

func TestLoadRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"zero concurrency", "scheduler:\n  concurrency: 0\n"},
		{"heartbeat above zombie timeout", "scheduler:\n  heartbeat_interval: 600s\n"},
		{"gcs without bucket", "storage:\n  backend: gcs\n"},
		{"zero sweep interval", "scheduler:\n  sweep_interval: 0s\n"},
		{"empty path layout", "storage:\n  path_layout: \"\"\n"},
		{"unknown backend", "storage:\n  backend: s3\n"},
		{"auth without key", "auth:\n  enabled: true\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}
