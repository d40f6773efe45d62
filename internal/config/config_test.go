package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Refresh.ProgressiveLimit)
	assert.Equal(t, 30*24*time.Hour, cfg.Refresh.CompletionWindow)
	assert.Equal(t, 100*time.Millisecond, cfg.Refresh.RetryBackoff)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/encybara.db")
	t.Setenv("REFRESH_INTERVAL", "1h")
	t.Setenv("REFRESH_PROGRESSIVE_LIMIT", "5")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/encybara.db", cfg.Database.SQLitePath)
	assert.Equal(t, time.Hour, cfg.Refresh.Interval)
	assert.Equal(t, 5, cfg.Refresh.ProgressiveLimit)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8080, cfg.Server.Port, "unparsable values fall back to the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad port", map[string]string{"SERVER_PORT": "70000"}, "invalid server port"},
		{"unknown driver", map[string]string{"DATABASE_DRIVER": "oracle"}, "unknown database driver"},
		{"empty dsn", map[string]string{"DATABASE_DSN": ""}, "database DSN is required"},
		{"zero limit", map[string]string{"REFRESH_PROGRESSIVE_LIMIT": "0"}, "invalid progressive limit"},
		{"zero retries", map[string]string{"REFRESH_RETRY_ATTEMPTS": "0"}, "invalid retry attempts"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, "unknown log format"},
		{"redis without address", map[string]string{"REDIS_ENABLED": "true", "REDIS_ADDRESS": ""}, "redis address is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
