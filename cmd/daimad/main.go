package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/daima/internal/config"
	"github.com/omochice/daima/internal/daemon"
	"github.com/omochice/daima/internal/lock"
	"github.com/omochice/daima/internal/logging"
	"github.com/omochice/daima/internal/metrics"
	"github.com/omochice/daima/internal/transport/unix"
	"github.com/omochice/daima/pkg/protocol"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("daemon failed")
		os.Exit(1)
	}
}

// run starts the daemon and blocks until it is signalled to stop. The lock is
// taken before the socket is bound, so a second instance never touches it.
func run(args []string) error {
	// Parse command-line flags
	flags := flag.NewFlagSet("daimad", flag.ContinueOnError)
	configPath := flags.String("config", "", "Path to a TOML config file")
	socketPath := flags.String("socket", "", "Socket path (overrides socket_path)")
	metricsAddr := flags.String("metrics", "", "Metrics listen address (overrides metrics_addr)")
	logLevel := flags.String("log-level", "", "Log level (overrides log_level)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logging.Configure(logging.Options{App: cfg.AppName, Level: cfg.LogLevel})

	lockPath := cfg.ResolvedLockPath()
	lk, err := lock.Acquire(lockPath)
	if errors.Is(err, lock.ErrAlreadyLocked) {
		if pid, perr := lock.ReadPID(lockPath); perr == nil {
			return fmt.Errorf("another instance (pid %d) holds %s: %w", pid, lockPath, err)
		}
		return fmt.Errorf("another instance holds %s: %w", lockPath, err)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release lock")
		}
	}()

	rec := metrics.New()
	hub := daemon.NewHub(daemon.DefaultHandler,
		daemon.WithCodec(cfg.ValueCodec()),
		daemon.WithLimits(protocol.Limits{MaxPayloadLength: cfg.MaxFrameBytes}),
		daemon.WithMetrics(rec),
	)
	srv := unix.New(cfg.ResolvedSocketPath(), hub,
		unix.WithReadBufferSize(cfg.ReadBufferBytes),
		unix.WithIdleTimeout(cfg.IdleTimeout),
		unix.WithMaxClients(cfg.MaxClients),
		unix.WithMetrics(rec),
	)
	if err := srv.Listen(); err != nil {
		return err
	}
	defer srv.Stop()

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		srv.Stop()
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return rec.Serve(ctx, cfg.MetricsAddr)
		})
	}

	log.Info().
		Str("socket", srv.Addr()).
		Str("codec", cfg.ValueCodec().Name()).
		Int("pid", lk.PID()).
		Msg("daemon started")

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("daemon stopped")
	return nil
}
