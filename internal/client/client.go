// Package client connects to the daemon socket and exchanges frames with it.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omochice/daima/pkg/codec"
	"github.com/omochice/daima/pkg/protocol"
)

// LineTerminator ends every raw line written by SendLine.
const LineTerminator = "\n\x00"

type Option func(*Client)

// WithCodec sets the payload codec. Defaults to CBOR.
func WithCodec(c codec.Codec) Option {
	return func(cl *Client) {
		if c != nil {
			cl.codec = c
		}
	}
}

// WithLimits bounds the frames accepted from the daemon.
func WithLimits(l protocol.Limits) Option {
	return func(cl *Client) { cl.limits = l }
}

func WithReadBufferSize(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.buf = make([]byte, n)
		}
	}
}

// Client is a connection to the daemon. Sends may be called concurrently;
// Receive must be called from one goroutine at a time.
type Client struct {
	conn   net.Conn
	codec  codec.Codec
	limits protocol.Limits

	writeMu sync.Mutex

	st  protocol.State
	err error // sticky decode failure
	buf []byte

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the daemon socket at path.
func Dial(ctx context.Context, path string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	c := &Client{
		conn:   conn,
		codec:  codec.CBOR(),
		limits: protocol.DefaultLimits(),
		st:     protocol.AccumulatingLength{},
		buf:    make([]byte, 4096),
	}
	for _, opt := range opts {
		opt(c)
	}
	log.Debug().Str("socket", path).Msg("connected to daemon")
	return c, nil
}

// Send encodes msg as one frame and writes it.
func (c *Client) Send(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg, c.codec)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// SendFrame writes payload framed with tag, whatever the tag means.
func (c *Client) SendFrame(ctx context.Context, tag uint16, payload []byte) error {
	return c.writeWith(ctx, func(w io.Writer) error {
		return protocol.WriteFrame(w, payload, tag)
	})
}

// SendLine writes text followed by LineTerminator, without framing.
func (c *Client) SendLine(ctx context.Context, text string) error {
	return c.write(ctx, []byte(text+LineTerminator))
}

func (c *Client) write(ctx context.Context, data []byte) error {
	return c.writeWith(ctx, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// writeWith runs send against the connection under the write lock, bounded
// by ctx.
func (c *Client) writeWith(ctx context.Context, send func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := send(c.conn); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// Receive returns the next message sent by the daemon. It returns io.EOF
// when the daemon closed the connection between frames and
// io.ErrUnexpectedEOF when it closed mid-frame. A protocol error is returned
// only after every frame that arrived before it, and by all later calls.
func (c *Client) Receive(ctx context.Context) (protocol.Message, error) {
	for {
		// One read may carry several frames; drain them before reading again.
		if done, ok := c.st.(protocol.Complete); ok {
			c.st, c.err = c.limits.Start(done.Rest)
			return protocol.Decode(done.Frame, c.codec)
		}
		if c.err != nil {
			return nil, c.err
		}

		n, err := c.read(ctx)
		if n > 0 {
			c.st, c.err = c.limits.Advance(c.st, c.buf[:n])
			if c.err != nil {
				return nil, c.err
			}
			if _, ok := c.st.(protocol.Complete); ok {
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && c.st != protocol.State(protocol.AccumulatingLength{}) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func (c *Client) read(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, err := c.conn.Read(c.buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
	}
	return n, err
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Close shuts down both directions and releases the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if hc, ok := c.conn.(halfCloser); ok {
			_ = hc.CloseWrite()
			_ = hc.CloseRead()
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
