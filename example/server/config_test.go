package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadServerConfig("ex.config.toml")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4000", cfg.Addr)
	assert.Equal(t, "/socket/websocket", cfg.Options.Path)
	assert.Equal(t, []string{"https://app.example.com", "//localhost"}, cfg.Options.CheckOrigin)
	assert.True(t, cfg.Options.HeartbeatEnabled)
	assert.Equal(t, 15*time.Second, cfg.Options.HeartbeatInterval)
	assert.True(t, cfg.Options.ZombieCleanupEnabled)
	assert.Equal(t, 90*time.Second, cfg.Options.ZombieMaxIdle)
	assert.Equal(t, 256, cfg.Options.SendBuffer, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, pubsubLibp2p, cfg.PubSub)
	assert.Equal(t, []string{"/ip4/0.0.0.0/tcp/4001"}, cfg.Libp2p.ListenAddrs)
	assert.True(t, cfg.Libp2p.EnableMDNS)
	assert.Equal(t, "chanhub-dev", cfg.Libp2p.Rendezvous)
	assert.Empty(t, cfg.Libp2p.Bootstrap)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadServerConfigEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := loadServerConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, defaultServerConfig(), cfg)
}

func TestLoadServerConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "bad duration", body: `heartbeat_interval = "soon"`, want: "parse heartbeat_interval"},
		{name: "bad pubsub", body: `pubsub = "redis"`, want: "invalid pubsub"},
		{name: "relative path", body: `path = "socket"`, want: "path must start with /"},
		{name: "empty addr", body: `addr = ""`, want: "addr is required"},
		{name: "bad toml", body: `addr = `, want: "load chanhubd config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadServerConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadServerConfigDisablesHeartbeat(t *testing.T) {
	cfg, err := loadServerConfig(writeConfig(t, `heartbeat_interval = "0s"`))
	require.NoError(t, err)
	assert.False(t, cfg.Options.HeartbeatEnabled)
}
