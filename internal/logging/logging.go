// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "DAIMA_LOG_LEVEL"
	EnvLogNoColor = "DAIMA_LOG_NOCOLOR"
	EnvLogJSON    = "DAIMA_LOG_JSON"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Options controls how the logger is built. Env overrides are applied on top.
type Options struct {
	App     string
	Level   string
	Out     io.Writer
	NoColor bool
	JSON    bool
	Profile Profile
}

var configureOnce sync.Once

// Configure installs the global logger once per process and returns it.
func Configure(opts Options) zerolog.Logger {
	configureOnce.Do(func() {
		log.Logger = New(opts)
	})
	return log.Logger
}

// ConfigureTests sets a debug logger without timestamps.
func ConfigureTests() {
	Configure(Options{App: "test", Profile: ProfileTest})
}

// New builds a logger from opts without touching global state.
func New(opts Options) zerolog.Logger {
	applyEnvOverrides(&opts)

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    opts.NoColor,
			TimeFormat: time.RFC3339,
		}
	}

	level := zerolog.InfoLevel
	if opts.Profile == ProfileTest {
		level = zerolog.DebugLevel
	}
	if lvl, ok := ParseLevel(opts.Level); ok {
		level = lvl
	}

	ctx := zerolog.New(out).Level(level).With()
	if opts.Profile == ProfileRuntime {
		ctx = ctx.Timestamp()
	}
	if opts.App != "" {
		ctx = ctx.Str("app", opts.App)
	}
	return ctx.Logger()
}

func applyEnvOverrides(opts *Options) {
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		opts.Level = raw
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		opts.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogJSON)); ok {
		opts.JSON = v
	}
}

// ParseLevel maps a config or env value to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
