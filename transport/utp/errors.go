package utp

import "errors"

// Connection-lifecycle error kinds (spec §7). Wire/codec-level errors
// shared with the metadata engine live in core.
var (
	// ErrTimeout is returned by Dial when the handshake is not acknowledged
	// within HandshakeTimeout. Read and Write have no deadlines.
	ErrTimeout = errors.New("utp: i/o timeout")

	// ErrMaxRetransmits is returned when a packet has been retransmitted
	// the configured maximum number of times without being acknowledged.
	ErrMaxRetransmits = errors.New("utp: maximum retransmissions exceeded")

	// ErrReset is returned to any blocked caller once a Reset packet is
	// received or sent for the connection.
	ErrReset = errors.New("utp: connection reset")

	// ErrNotConnected is returned by a Connection's Write and Read once it
	// has been closed locally or has failed. Before the handshake completes
	// they block instead of returning it.
	ErrNotConnected = errors.New("utp: not connected")

	// ErrNoFreeId is returned by the socket multiplexer when every
	// connection id in the allowed range is already in use.
	ErrNoFreeId = errors.New("utp: no free connection id")

	// ErrClosed is returned by operations attempted on a Socket that has
	// already been closed, and by a Connection's Read once the peer's FIN
	// has arrived and all buffered data has been read.
	ErrClosed = errors.New("utp: use of closed connection")
)
