package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	content := `
server:
  host: "127.0.0.1"
  port: 9000
function:
  endpoint: "http://rules.local/v1/execute"
  call_timeout: 5s
  max_attempts: 4
  auth_token_env: "TEST_FUNCTION_TOKEN"
session:
  lease: 10m
  sweep_interval: 30s
events:
  buffer_size: 32
notify:
  database_path: "test.db"
  channels:
    - name: "inapp"
      type: "inapp"
    - name: "ops"
      type: "webhook"
      url: "http://ops.local/hook"
  subscriptions:
    - user_id: "player-1"
      channel: "inapp"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("TEST_FUNCTION_TOKEN", "sekrit")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://rules.local/v1/execute", cfg.Function.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Function.CallTimeout)
	assert.Equal(t, 4, cfg.Function.MaxAttempts)
	assert.Equal(t, "sekrit", cfg.Function.AuthToken, "token resolved from env")
	assert.Equal(t, 10*time.Minute, cfg.Session.Lease)
	assert.Equal(t, 32, cfg.Events.BufferSize)
	require.Len(t, cfg.Notify.Channels, 2)
	assert.Equal(t, "test.db", cfg.Notify.DatabasePath)

	// Unset fields got defaults.
	assert.Equal(t, 100*time.Millisecond, cfg.Function.BaseDelay)
	assert.Equal(t, 3, cfg.Events.EnqueueRetries)
	assert.Equal(t, 64, cfg.Notify.Channels[0].QueueSize)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "default config is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing function endpoint",
			mutate:  func(c *Config) { c.Function.Endpoint = "" },
			wantErr: "function.endpoint is required",
		},
		{
			name:    "channel without name",
			mutate:  func(c *Config) { c.Notify.Channels[0].Name = "" },
			wantErr: "channel name is required",
		},
		{
			name: "webhook channel without url",
			mutate: func(c *Config) {
				c.Notify.Channels[0].Type = "webhook"
				c.Notify.Channels[0].URL = ""
			},
			wantErr: "requires url",
		},
		{
			name:    "unsupported channel type",
			mutate:  func(c *Config) { c.Notify.Channels[0].Type = "carrier-pigeon" },
			wantErr: "unsupported type",
		},
		{
			name: "subscription references unknown channel",
			mutate: func(c *Config) {
				c.Notify.Subscriptions = []SubscriptionConfig{
					{UserID: "player-1", Channel: "no-such-channel"},
				}
			},
			wantErr: "unknown channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := DefaultConfig()
	original.Server.Port = 8123
	require.NoError(t, SaveConfig(original, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, loaded.Server.Port)
	assert.Equal(t, original.Function.Endpoint, loaded.Function.Endpoint)
	assert.Equal(t, original.Session.Lease, loaded.Session.Lease)
}
