package unix

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omochice/daima/internal/daemon"
	"github.com/omochice/daima/internal/metrics"
)

// ErrSocketPathIsDir is returned by Listen when the socket path is a directory.
var ErrSocketPathIsDir = errors.New("socket path is a directory")

type Option func(*Server)

func WithReadBufferSize(n int) Option {
	return func(s *Server) { s.readBufferSize = n }
}

// WithIdleTimeout closes connections that send nothing for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithMaxClients rejects connections beyond n live ones. Zero means unlimited.
func WithMaxClients(n int) Option {
	return func(s *Server) { s.maxClients = n }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = r }
}

// Server accepts Unix socket connections and delegates them to Hub.
type Server struct {
	path     string
	listener net.Listener
	hub      *daemon.Hub

	readBufferSize int
	idleTimeout    time.Duration
	maxClients     int
	metrics        *metrics.Recorder

	active atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	stop   sync.Once
	// mu orders wg.Add in the accept loop against wg.Wait in Stop.
	mu sync.Mutex
	wg sync.WaitGroup
}

// New creates a server for the socket at path that uses the provided Hub.
func New(path string, hub *daemon.Hub, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		path:           path,
		hub:            hub,
		readBufferSize: DefaultReadBufferSize,
		ctx:            ctx,
		cancel:         cancel,
		quit:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the socket, replacing whatever file a previous run left at the path.
func (s *Server) Listen() error {
	if err := removeStale(s.path); err != nil {
		return fmt.Errorf("failed to start unix server: %w", err)
	}
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to start unix server: %w", err)
	}
	s.listener = listener
	log.Info().Str("socket", s.path).Msg("unix server listening")
	return nil
}

func removeStale(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %w", path, ErrSocketPathIsDir)
	}
	log.Warn().Str("socket", path).Stringer("mode", info.Mode()).Msg("removing stale socket file")
	return os.Remove(path)
}

// Serve accepts connections until Stop is called. Listen must have succeeded.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("unix server is not listening")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		if s.maxClients > 0 && s.active.Load() >= int64(s.maxClients) {
			s.metrics.ConnectionRejected()
			log.Warn().Int("max_clients", s.maxClients).Msg("rejecting connection")
			_ = conn.Close()
			continue
		}

		if !s.track() {
			_ = conn.Close()
			return nil
		}
		go s.handle(NewConn(conn, s.readBufferSize, s.idleTimeout))
	}
}

// Stop closes the listener, ends every live session, waits for them and
// removes the socket file. It is safe to call more than once.
func (s *Server) Stop() {
	s.stop.Do(func() {
		s.mu.Lock()
		close(s.quit)
		s.mu.Unlock()
		log.Info().Str("socket", s.path).Int("active", s.ActiveConnections()).Msg("unix server stopping")
		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		// Sessions blocked outside a read deadline end when their conn closes.
		s.hub.Close()
		s.wg.Wait()
		if s.listener != nil {
			if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Warn().Err(err).Str("socket", s.path).Msg("failed to remove socket")
			}
		}
		log.Info().Str("socket", s.path).Msg("unix server stopped")
	})
}

// Addr returns the listening socket path.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ActiveConnections returns the number of sessions currently running.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.active.Add(1)
	s.wg.Add(1)
	return true
}

func (s *Server) handle(conn *Conn) {
	defer s.wg.Done()
	defer s.active.Add(-1)
	// Serve logs how the session ended.
	_ = s.hub.Serve(s.ctx, conn)
}
