// Package daemon provides the connection handling shared by all local
// transports: framing, message dispatch and the set of live peers.
package daemon

import "context"

// Conn abstracts a bidirectional byte-stream connection.
// This interface isolates transport details from the daemon logic.
type Conn interface {
	// Read returns the next chunk of bytes, of any size. The slice is only
	// valid until the next Read. Returns io.EOF when the peer closed its side.
	Read(ctx context.Context) ([]byte, error)

	// Write sends data in full.
	Write(ctx context.Context, data []byte) error

	// Close shuts down both directions and releases the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
