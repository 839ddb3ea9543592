package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "DIRECTORY_BACKEND", "LIVENESS_PERIOD", "CASSANDRA_ENABLED", "PUSH_PROVIDER"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DirectoryCockroach, cfg.DirectoryBackend)
	assert.Equal(t, 30*time.Second, cfg.Liveness.Period)
	assert.False(t, cfg.Cassandra.Enabled)
	assert.Equal(t, "mock", cfg.Push.Provider)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("PUSH_PROVIDER", "")
	t.Setenv("PORT", "9090")
	t.Setenv("DIRECTORY_BACKEND", "memory")
	t.Setenv("LIVENESS_PERIOD", "5s")
	t.Setenv("CASSANDRA_ENABLED", "true")
	t.Setenv("CASSANDRA_HOSTS", "cass-1, cass-2,")
	t.Setenv("WS_MAX_CONNECTIONS", "2")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DirectoryMemory, cfg.DirectoryBackend)
	assert.Equal(t, 5*time.Second, cfg.Liveness.Period)
	assert.True(t, cfg.Cassandra.Enabled)
	assert.Equal(t, []string{"cass-1", "cass-2"}, cfg.Cassandra.Hosts)
	assert.Equal(t, 2, cfg.WebSocket.MaxConnections)
	assert.NotEmpty(t, cfg.Warnings())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:           ServerConfig{Environment: "production"},
			JWT:              JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
			Liveness:         LivenessConfig{Period: time.Second},
			WebSocket:        WebSocketConfig{MaxConnections: 1, SendBuffer: 1},
			Push:             PushConfig{Provider: "fcm"},
			DirectoryBackend: DirectoryCockroach,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret in production", func(c *Config) { c.JWT.Secret = "short" }},
		{"memory directory in production", func(c *Config) { c.DirectoryBackend = DirectoryMemory }},
		{"unknown directory", func(c *Config) { c.DirectoryBackend = "sqlite" }},
		{"unknown push provider", func(c *Config) { c.Push.Provider = "pigeon" }},
		{"zero liveness period", func(c *Config) { c.Liveness.Period = 0 }},
		{"zero send buffer", func(c *Config) { c.WebSocket.SendBuffer = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
