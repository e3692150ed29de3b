// Package config loads tabsync configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Store   StoreConfig
	Sync    SyncConfig
	Session SessionConfig
	Gateway GatewayConfig
	Audit   AuditConfig
}

// StoreConfig selects and tunes the shared event store backend.
type StoreConfig struct {
	// Backend is one of "memory", "redis", or "dir".
	Backend string

	// RedisAddr is the redis host:port (backend "redis").
	RedisAddr string `mapstructure:"redis_addr"`

	// DirPath is the shared directory (backend "dir").
	DirPath string `mapstructure:"dir_path"`

	// Key is the mailbox key events are exchanged through.
	Key string
}

// SyncConfig tunes the coordinator.
type SyncConfig struct {
	DebounceMs  int  `mapstructure:"debounce_ms"`
	HeartbeatMs int  `mapstructure:"heartbeat_ms"`
	IgnoreOwn   bool `mapstructure:"ignore_own"`

	// Origin labels events published by this process.
	Origin string
}

// SessionConfig tunes the session store.
type SessionConfig struct {
	ExpiryWarnMs int `mapstructure:"expiry_warn_ms"`
}

// GatewayConfig tunes the HTTP gateway.
type GatewayConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// AuditConfig tunes the audit log.
type AuditConfig struct {
	Path string
}

// Durations derived from the millisecond knobs.

// Debounce returns the coordinator debounce window.
func (c SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Heartbeat returns the coordinator heartbeat interval.
func (c SyncConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMs) * time.Millisecond
}

// ExpiryWarn returns the session expiry warning threshold.
func (c SessionConfig) ExpiryWarn() time.Duration {
	return time.Duration(c.ExpiryWarnMs) * time.Millisecond
}

// Load reads configuration from file and env. Env var overrides use prefix
// TABSYNC_ (e.g. TABSYNC_STORE_BACKEND=redis). The config file is TOML,
// taken from TABSYNC_CONFIG or ~/.config/tabsync/config.toml; a missing
// file is not an error.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.dir_path", filepath.Join(os.TempDir(), "tabsync"))
	v.SetDefault("store.key", "tabsync:events")
	v.SetDefault("sync.debounce_ms", 100)
	v.SetDefault("sync.heartbeat_ms", 10000)
	v.SetDefault("sync.ignore_own", true)
	v.SetDefault("sync.origin", "")
	v.SetDefault("session.expiry_warn_ms", 300000)
	v.SetDefault("gateway.listen_addr", "127.0.0.1:8344")
	v.SetDefault("audit.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "tabsync", "audit.db"))

	v.SetConfigType("toml")

	cfgPath := os.Getenv("TABSYNC_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "tabsync"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("TABSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func validate(c Config) error {
	switch c.Store.Backend {
	case "memory", "redis", "dir":
	default:
		return fmt.Errorf("config: unknown store backend %q (want memory, redis, or dir)", c.Store.Backend)
	}
	if c.Sync.DebounceMs <= 0 {
		return fmt.Errorf("config: sync.debounce_ms must be positive")
	}
	if c.Sync.HeartbeatMs <= 0 {
		return fmt.Errorf("config: sync.heartbeat_ms must be positive")
	}
	if c.Store.Key == "" {
		return fmt.Errorf("config: store.key must not be empty")
	}
	return nil
}
