package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SYNCBOX_DATA_DIR", "/data")
	t.Setenv("SYNCBOX_REMOTE_DIR", "/remote")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "fs", cfg.Executor)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.Equal(t, 500, cfg.CompletedLimit)
	assert.Equal(t, 50*time.Millisecond, cfg.SimulatedStepDelay)
	assert.Equal(t, "/tmp/syncbox.sock", cfg.RPC.Socket)
	assert.Equal(t, "0.0.0.0:9092", cfg.Web.BindAddress)
	assert.Equal(t, "syncbox", cfg.Telemetry.ServiceName)
}

func TestLoadConfig_Nested(t *testing.T) {
	t.Setenv("SYNCBOX_DATA_DIR", "/data")
	t.Setenv("SYNCBOX_EXECUTOR", "s3")
	t.Setenv("SYNCBOX_S3_BUCKET", "backups")
	t.Setenv("SYNCBOX_S3_USE_PATH_STYLE", "true")
	t.Setenv("SYNCBOX_RPC_SOCKET", "/run/syncbox.sock")
	t.Setenv("SYNCBOX_WEB_SHUTDOWN_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "backups", cfg.S3.Bucket)
	assert.True(t, cfg.S3.UsePathStyle)
	assert.Equal(t, "/run/syncbox.sock", cfg.RPC.Socket)
	assert.Equal(t, 5*time.Second, cfg.Web.ShutdownTimeout)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing data dir", env: map[string]string{"SYNCBOX_REMOTE_DIR": "/r"}},
		{name: "unknown executor", env: map[string]string{"SYNCBOX_DATA_DIR": "/d", "SYNCBOX_EXECUTOR": "ftp"}},
		{name: "putio without token", env: map[string]string{"SYNCBOX_DATA_DIR": "/d", "SYNCBOX_EXECUTOR": "putio"}},
		{name: "postgres without dsn", env: map[string]string{"SYNCBOX_DATA_DIR": "/d", "SYNCBOX_REMOTE_DIR": "/r", "SYNCBOX_STORE": "postgres"}},
		{name: "zero concurrency", env: map[string]string{"SYNCBOX_DATA_DIR": "/d", "SYNCBOX_REMOTE_DIR": "/r", "SYNCBOX_MAX_CONCURRENCY": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"bogus": slog.LevelInfo,
	}

	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
