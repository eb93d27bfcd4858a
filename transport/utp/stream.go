package utp

import "net"

// Stream is the byte-stream facade a Connection exposes to higher layers
// (spec §4.6): ordered, reliable Read/Write/Close over uTP, adapting
// cleanly to io.ReadWriteCloser so peer-connection code can treat it like
// any other stream transport.
type Stream struct {
	c *Conn
}

func newStream(c *Conn) *Stream {
	return &Stream{c: c}
}

// Write queues p for reliable, ordered delivery, blocking while the
// congestion window or the peer's advertised window is full. There is no
// separate limit on the number of unacked packets.
func (s *Stream) Write(p []byte) (int, error) {
	return s.c.write(p)
}

// Read returns bytes from the reassembled buffer, blocking until at least
// one byte is available or the peer has closed the connection.
func (s *Stream) Read(p []byte) (int, error) {
	return s.c.read(p)
}

// Close initiates a graceful close: a FIN is sent if the stream is
// currently connected, and the underlying Connection's resources are torn
// down once its background tasks have drained.
func (s *Stream) Close() error {
	return s.c.close()
}

// RemoteAddr returns the peer's address for peer-session code layered on
// top of uTP. Stream has no LocalAddr method.
func (s *Stream) RemoteAddr() net.Addr {
	return s.c.remoteAddr
}

// ConnID returns the uTP connection id identifying this stream, primarily
// useful for logging/debugging.
func (s *Stream) ConnID() uint16 {
	return s.c.connID
}

// IsConnected reports whether the handshake has completed and the stream
// is in the Connected state.
func (s *Stream) IsConnected() bool {
	return s.c.state() == stateConnected
}
