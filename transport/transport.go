// Package transport abstracts the byte stream a peer endpoint speaks
// over. A Transport moves opaque bytes in both directions; framing and
// JSON-RPC semantics live above it, so chunk boundaries on the inbound
// stream are arbitrary.
//
// Two concrete variants are provided: [Stream] adapts an io.Reader and
// io.Writer pair (a child process's stdio), and [WebSocket] adapts a
// gorilla websocket connection. [Pair] builds two connected in-memory
// transports for tests.
package transport

import "errors"

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is a duplex byte channel to the remote peer.
type Transport interface {
	// Send writes one frame's bytes toward the peer. The endpoint
	// serializes calls; implementations may assume a single sender.
	Send(p []byte) error

	// Recv returns the inbound byte stream. The channel is closed when
	// the connection ends, whether by the peer or by Close.
	Recv() <-chan []byte

	// Close tears down the connection. Safe to call more than once.
	Close() error
}
