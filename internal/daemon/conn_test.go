package daemon_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/omochice/daima/internal/daemon"
)

// scribble overwrites the previous chunk before each Read so that anything
// still holding it sees garbage.
const scribble = 0xa5

// mockConn feeds chunks from readCh through one reused buffer, the way the
// socket adapter does.
type mockConn struct {
	readCh  chan []byte
	readErr error
	buf     []byte

	// ignoreCtx makes Read block until Close, like a socket without deadlines.
	ignoreCtx bool
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	writtenMu sync.Mutex
	written   [][]byte

	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 10),
		buf:        make([]byte, 0, 256),
		done:       make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	prev := m.buf[:cap(m.buf)]
	for i := range prev {
		prev[i] = scribble
	}

	ctxDone := ctx.Done()
	if m.ignoreCtx {
		ctxDone = nil
	}
	select {
	case <-ctxDone:
		return nil, ctx.Err()
	case <-m.done:
		return nil, io.EOF
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		m.buf = append(m.buf[:0], data...)
		return m.buf, nil
	}
}

func (m *mockConn) Write(_ context.Context, data []byte) error {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.closed.Store(true)
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) Written() [][]byte {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.written
}

var _ daemon.Conn = (*mockConn)(nil)
