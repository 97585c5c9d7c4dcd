package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{"NODE_ID": "node1"}))
	require.NoError(t, err)

	assert.Equal(t, "node1", cfg.NodeID)
	assert.Equal(t, ":5001", cfg.Listen)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "file", cfg.Store)
	assert.Equal(t, 3, cfg.Replication.Attempts)
	assert.Equal(t, time.Second, cfg.Replication.Backoff)
	assert.Empty(t, cfg.Peers)
	assert.Empty(t, cfg.Reconcile.Cron)
	assert.Equal(t, DefaultUsers(), cfg.Users)
}

func TestFromEnvRequiresNodeID(t *testing.T) {
	_, err := FromEnv(mapLookup(map[string]string{}))
	assert.Error(t, err)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(mapLookup(map[string]string{
		"NODE_ID":              "node2",
		"NODE_LISTEN":          ":5002",
		"NODE_PEERS":           "http://127.0.0.1:5001/, http://127.0.0.1:5003,,http://127.0.0.1:5001",
		"NODE_DATA_DIR":        "/tmp/mural",
		"NODE_STORE":           "pebble",
		"LOG_LEVEL":            "debug",
		"REPLICATE_ATTEMPTS":   "5",
		"REPLICATE_BACKOFF":    "250ms",
		"RECONCILE_CRON":       "*/5 * * * *",
		"PEER_HEALTH_INTERVAL": "2s",
		"LOGIN_RPS":            "0.5",
		"LOGIN_BURST":          "3",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":5002", cfg.Listen)
	assert.Equal(t, []string{"http://127.0.0.1:5001", "http://127.0.0.1:5003"}, cfg.Peers)
	assert.Equal(t, "/tmp/mural", cfg.DataDir)
	assert.Equal(t, "pebble", cfg.Store)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Replication.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Replication.Backoff)
	assert.Equal(t, "*/5 * * * *", cfg.Reconcile.Cron)
	assert.Equal(t, 2*time.Second, cfg.Health.Interval)
	assert.Equal(t, 0.5, cfg.Login.RPS)
	assert.Equal(t, 3, cfg.Login.Burst)
}

func TestFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad store", map[string]string{"NODE_STORE": "redis"}},
		{"bad attempts", map[string]string{"REPLICATE_ATTEMPTS": "three"}},
		{"zero attempts", map[string]string{"REPLICATE_ATTEMPTS": "0"}},
		{"bad backoff", map[string]string{"REPLICATE_BACKOFF": "soon"}},
		{"bad cron", map[string]string{"RECONCILE_CRON": "every minute"}},
		{"bad health interval", map[string]string{"PEER_HEALTH_INTERVAL": "-1s"}},
		{"bad rps", map[string]string{"LOGIN_RPS": "fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.env["NODE_ID"] = "node1"
			_, err := FromEnv(mapLookup(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestYAMLFileWithEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: from-file
listen: ":6001"
store: memory
peers:
  - http://10.0.0.2:6001
  - http://10.0.0.3:6001/
replication:
  attempts: 4
  backoff: 2s
reconcile:
  cron: "0 * * * *"
health:
  interval: 5s
users:
  dave: secret
`), 0o644))

	cfg, err := FromEnv(mapLookup(map[string]string{
		"NODE_CONFIG": path,
		"NODE_LISTEN": ":7001",
	}))
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.NodeID)
	assert.Equal(t, ":7001", cfg.Listen, "env wins over file")
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, []string{"http://10.0.0.2:6001", "http://10.0.0.3:6001"}, cfg.Peers)
	assert.Equal(t, 4, cfg.Replication.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Replication.Backoff)
	assert.Equal(t, "0 * * * *", cfg.Reconcile.Cron)
	assert.Equal(t, 5*time.Second, cfg.Health.Interval)
	assert.Equal(t, map[string]string{"dave": "secret"}, cfg.Users, "configured users replace the demo table")
	assert.Equal(t, "data", cfg.DataDir, "unset fields keep defaults")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := FromEnv(mapLookup(map[string]string{
		"NODE_ID":     "node1",
		"NODE_CONFIG": filepath.Join(t.TempDir(), "absent.yaml"),
	}))
	assert.ErrorContains(t, err, "config file not found")
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("NODE_ID=dotenv-node\nNODE_LISTEN=:5055\n"), 0o644))
	t.Setenv("NODE_ID", "")
	os.Unsetenv("NODE_ID")
	t.Setenv("NODE_LISTEN", "")
	os.Unsetenv("NODE_LISTEN")
	t.Setenv("NODE_CONFIG", "")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-node", cfg.NodeID)
	assert.Equal(t, ":5055", cfg.Listen)
}

func TestLoadMissingDotEnvIsFine(t *testing.T) {
	t.Setenv("NODE_ID", "node9")
	t.Setenv("NODE_CONFIG", "")
	cfg, err := Load(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, "node9", cfg.NodeID)
}
