package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JokerTrickster/unity-dice-sub000/internal/config"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 6, cfg.MaxReconnectAttempts)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 15 * time.Second, 30 * time.Second,
	}, cfg.ReconnectSchedule)
	assert.Equal(t, "memory", cfg.StoreBackend)
}

func TestYAMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server_url: ws://test-host:9000/ws\nrequest_timeout: 45s\nsend_retry_limit: 5\n",
	), 0o644))
	t.Setenv("MATCHCLIENT_CONFIG", path)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ws://test-host:9000/ws", cfg.ServerURL)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.SendRetryLimit)
	assert.Equal(t, 120*time.Second, cfg.SearchTimeout, "untouched keys keep defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("request_timeout: 45s\n"), 0o644))
	t.Setenv("MATCHCLIENT_CONFIG", path)
	t.Setenv("REQUEST_TIMEOUT", "90s")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "9")
	t.Setenv("RECONNECT_SCHEDULE", "500ms, 1s, 2s")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 9, cfg.MaxReconnectAttempts)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, cfg.ReconnectSchedule)
}

func TestBadScheduleEnvFails(t *testing.T) {
	t.Setenv("RECONNECT_SCHEDULE", "1s,banana")
	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		cfg, err := config.LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad scheme", func(c *config.Config) { c.ServerURL = "http://host" }},
		{"missing host", func(c *config.Config) { c.ServerURL = "ws://" }},
		{"zero request timeout", func(c *config.Config) { c.RequestTimeout = 0 }},
		{"warning window too wide", func(c *config.Config) { c.WarningWindow = c.RequestTimeout }},
		{"negative attempts", func(c *config.Config) { c.MaxReconnectAttempts = -1 }},
		{"empty schedule", func(c *config.Config) { c.ReconnectSchedule = nil }},
		{"negative delay", func(c *config.Config) { c.ReconnectSchedule = []time.Duration{-time.Second} }},
		{"zero retry limit", func(c *config.Config) { c.SendRetryLimit = 0 }},
		{"unknown backend", func(c *config.Config) { c.StoreBackend = "etcd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
