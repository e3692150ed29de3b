package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TABSYNC_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", c.Store.Backend)
	assert.Equal(t, "tabsync:events", c.Store.Key)
	assert.Equal(t, 100*time.Millisecond, c.Sync.Debounce())
	assert.Equal(t, 10*time.Second, c.Sync.Heartbeat())
	assert.True(t, c.Sync.IgnoreOwn)
	assert.Equal(t, 5*time.Minute, c.Session.ExpiryWarn())
	assert.Equal(t, "127.0.0.1:8344", c.Gateway.ListenAddr)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[store]
backend = "redis"
redis_addr = "redis.internal:6380"
key = "myapp:sync"

[sync]
debounce_ms = 250
heartbeat_ms = 5000
ignore_own = false
origin = "worker"

[gateway]
listen_addr = "0.0.0.0:9000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("TABSYNC_CONFIG", path)

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", c.Store.Backend)
	assert.Equal(t, "redis.internal:6380", c.Store.RedisAddr)
	assert.Equal(t, "myapp:sync", c.Store.Key)
	assert.Equal(t, 250*time.Millisecond, c.Sync.Debounce())
	assert.Equal(t, 5*time.Second, c.Sync.Heartbeat())
	assert.False(t, c.Sync.IgnoreOwn)
	assert.Equal(t, "worker", c.Sync.Origin)
	assert.Equal(t, "0.0.0.0:9000", c.Gateway.ListenAddr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TABSYNC_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("TABSYNC_STORE_BACKEND", "dir")
	t.Setenv("TABSYNC_STORE_DIR_PATH", "/var/run/tabsync")
	t.Setenv("TABSYNC_SYNC_DEBOUNCE_MS", "50")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dir", c.Store.Backend)
	assert.Equal(t, "/var/run/tabsync", c.Store.DirPath)
	assert.Equal(t, 50*time.Millisecond, c.Sync.Debounce())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("TABSYNC_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("TABSYNC_STORE_BACKEND", "dynamo")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("non-positive debounce", func(t *testing.T) {
		t.Setenv("TABSYNC_SYNC_DEBOUNCE_MS", "0")
		_, err := Load()
		assert.Error(t, err)
	})
}
