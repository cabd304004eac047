package websocket

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"syscall"
)

// Stream is the capability bound the protocol engine requires of whatever
// duplex byte channel it was handed (spec Section 4.9 "Stream abstraction",
// Section 9 "the stream must support read and write"). Plain TCP, a TLS
// connection, or anything else satisfying this contract works identically.
type Stream interface {
	io.Reader
	io.Writer
}

// netDialer is the subset of *net.TCPConn that TCPStream and TLSStream
// forward their TCP_NODELAY passthrough to (spec Section 4.9 "forwards ... a TCP_NODELAY
// toggle").
type netDialer interface {
	SetNoDelay(bool) error
}

// TCPStream wraps a plain net.Conn, one arm of the tagged union the spec
// describes over {plain stream, TLS-wrapped} (spec Section 4.9).
type TCPStream struct {
	net.Conn
}

// SetNoDelay forwards to the underlying *net.TCPConn when present, and is a
// no-op otherwise (e.g. over an in-memory net.Pipe in tests).
func (s TCPStream) SetNoDelay(on bool) error {
	if td, ok := s.Conn.(netDialer); ok {
		return td.SetNoDelay(on)
	}
	return nil
}

// TLSStream wraps a *tls.Conn. Passthrough only: the TLS handshake itself
// and certificate policy are the caller's concern (spec Section 1
// "TLS wrapping ... is a thin collaborator").
type TLSStream struct {
	*tls.Conn
}

// SetNoDelay forwards to the TLS connection's underlying net.Conn.
func (s TLSStream) SetNoDelay(on bool) error {
	if td, ok := s.NetConn().(netDialer); ok {
		return td.SetNoDelay(on)
	}
	return nil
}

// NewStream wraps conn in the narrowest arm of the tagged union that
// applies: TLSStream for a *tls.Conn, TCPStream otherwise.
func NewStream(conn net.Conn) Stream {
	if tc, ok := conn.(*tls.Conn); ok {
		return TLSStream{tc}
	}
	return TCPStream{conn}
}

// isWouldBlock reports whether err represents a non-blocking stream's
// "no data/capacity right now" signal (spec Section 4.3, Section 5:
// "When the underlying stream is in non-blocking mode, WouldBlock is
// surfaced as an I/O error"). A net.Conn deadline expiry presents as a
// net.Error with Timeout() == true, which is the idiomatic Go analogue of
// EWOULDBLOCK for a non-blocking-tolerant stream.
func isWouldBlock(err error) bool {
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isCleanEOF reports whether err represents the peer closing its write side
// in the ordinary way, as opposed to a transport-level reset.
func isCleanEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}

// errConnReset is surfaced per spec Section 4.3: "a zero-byte read with a
// non-empty parked header is a transport reset".
var errConnReset = errors.New("websocket: connection reset mid-frame")

// isConnReset reports whether err is a transport-level reset, used by the
// session's connection-reset detection (spec Section 4.7 "Connection-reset
// detection").
func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, errConnReset)
}
