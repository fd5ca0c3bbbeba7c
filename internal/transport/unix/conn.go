// Package unix provides the Unix domain socket transport for the daemon.
package unix

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// ErrIdleTimeout is returned by Read when no bytes arrived within the idle timeout.
var ErrIdleTimeout = errors.New("connection idle timeout")

// DefaultReadBufferSize is the size of the per-connection read buffer.
const DefaultReadBufferSize = 4096

// Conn adapts net.Conn to daemon.Conn.
type Conn struct {
	conn net.Conn
	buf  []byte
	idle time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps a net.Conn. A bufSize of zero or less selects
// DefaultReadBufferSize and an idle of zero disables the idle timeout.
func NewConn(conn net.Conn, bufSize int, idle time.Duration) *Conn {
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}
	return &Conn{
		conn: conn,
		buf:  make([]byte, bufSize),
		idle: idle,
	}
}

// Read implements daemon.Conn.
// The returned slice aliases the connection buffer and is overwritten by the
// next Read.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	var deadline time.Time
	if c.idle > 0 {
		deadline = time.Now().Add(c.idle)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	// Cancellation moves the deadline into the past to unblock Read.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	n, err := c.conn.Read(c.buf)
	stop()

	if n > 0 {
		return c.buf[:n], nil
	}
	if err == nil {
		return c.buf[:0], nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, ErrIdleTimeout
	}
	return nil, err
}

// Write implements daemon.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()
	_, err := c.conn.Write(data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Close implements daemon.Conn. Both directions are shut down before the
// descriptor is released; later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if hc, ok := c.conn.(halfCloser); ok {
			_ = hc.CloseWrite()
			_ = hc.CloseRead()
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements daemon.Conn.
// Unix peers are usually unnamed, so the local socket path is reported instead.
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.Network() + ":" + addr.String()
	}
	if addr := c.conn.LocalAddr(); addr != nil {
		return addr.Network() + ":" + addr.String() + "#peer"
	}
	return "unix"
}
