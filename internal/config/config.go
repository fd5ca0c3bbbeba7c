// Package config loads the daemon and client settings from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/omochice/daima/pkg/codec"
)

const (
	DefaultAppName         = "daima_deamon"
	DefaultMaxFrameBytes   = 16 << 20
	DefaultReadBufferBytes = 4096
)

type Config struct {
	AppName string `toml:"app_name"`
	// RuntimeDir holds the socket and lock file; empty means os.TempDir().
	RuntimeDir string `toml:"runtime_dir"`
	SocketPath string `toml:"socket_path"`
	LockPath   string `toml:"lock_path"`

	Codec           string        `toml:"codec"`
	MaxFrameBytes   uint64        `toml:"max_frame_bytes"`
	ReadBufferBytes int           `toml:"read_buffer_bytes"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	MaxClients      int           `toml:"max_clients"`

	MetricsAddr string `toml:"metrics_addr"`
	LogLevel    string `toml:"log_level"`
}

func Default() Config {
	return Config{
		AppName:         DefaultAppName,
		Codec:           codec.NameCBOR,
		MaxFrameBytes:   DefaultMaxFrameBytes,
		ReadBufferBytes: DefaultReadBufferBytes,
		LogLevel:        "info",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config parse failed (%s): unknown keys %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AppName) == "" {
		errs = append(errs, errors.New("app_name is required"))
	}
	if strings.ContainsRune(c.AppName, filepath.Separator) {
		errs = append(errs, fmt.Errorf("app_name %q must not contain %q", c.AppName, filepath.Separator))
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.ReadBufferBytes <= 0 {
		errs = append(errs, fmt.Errorf("read_buffer_bytes must be positive, got %d", c.ReadBufferBytes))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("idle_timeout must not be negative, got %s", c.IdleTimeout))
	}
	if c.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("max_clients must not be negative, got %d", c.MaxClients))
	}
	return errors.Join(errs...)
}

func (c Config) runtimeDir() string {
	if c.RuntimeDir != "" {
		return c.RuntimeDir
	}
	return os.TempDir()
}

// ResolvedSocketPath is socket_path, or <runtime dir>/<app>.socket.
func (c Config) ResolvedSocketPath() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return filepath.Join(c.runtimeDir(), c.AppName+".socket")
}

// ResolvedLockPath is lock_path, or <runtime dir>/lock_file_<app>.process.
func (c Config) ResolvedLockPath() string {
	if c.LockPath != "" {
		return c.LockPath
	}
	return filepath.Join(c.runtimeDir(), fmt.Sprintf("lock_file_%s.process", c.AppName))
}

// ValueCodec returns the configured payload codec.
func (c Config) ValueCodec() codec.Codec {
	vc, err := codec.ByName(c.Codec)
	if err != nil {
		return codec.CBOR()
	}
	return vc
}
