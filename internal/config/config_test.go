package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omochice/daima/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daima.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
	require.Equal(t, filepath.Join(os.TempDir(), "daima_deamon.socket"), cfg.ResolvedSocketPath())
	require.Equal(t, filepath.Join(os.TempDir(), "lock_file_daima_deamon.process"), cfg.ResolvedLockPath())
	require.Equal(t, "cbor", cfg.ValueCodec().Name())
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
app_name = "daima_test"
runtime_dir = "`+dir+`"
codec = "protobuf"
max_frame_bytes = 1024
read_buffer_bytes = 100
idle_timeout = "30s"
max_clients = 8
log_level = "debug"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "daima_test", cfg.AppName)
	require.Equal(t, uint64(1024), cfg.MaxFrameBytes)
	require.Equal(t, 100, cfg.ReadBufferBytes)
	require.Equal(t, 30*time.Second, cfg.IdleTimeout)
	require.Equal(t, 8, cfg.MaxClients)
	require.Equal(t, "protobuf", cfg.ValueCodec().Name())
	require.Equal(t, filepath.Join(dir, "daima_test.socket"), cfg.ResolvedSocketPath())
	require.Equal(t, filepath.Join(dir, "lock_file_daima_test.process"), cfg.ResolvedLockPath())
}

func TestLoad_ExplicitPaths(t *testing.T) {
	path := writeConfig(t, `
socket_path = "/run/daima/custom.sock"
lock_path = "/run/daima/custom.lock"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/run/daima/custom.sock", cfg.ResolvedSocketPath())
	require.Equal(t, "/run/daima/custom.lock", cfg.ResolvedLockPath())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", `color = "blue"`},
		{"bad codec", `codec = "msgpack"`},
		{"empty app name", `app_name = ""`},
		{"zero read buffer", `read_buffer_bytes = 0`},
		{"negative clients", `max_clients = -1`},
		{"syntax", `app_name = `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
