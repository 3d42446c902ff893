package link

import "errors"

// Sentinel errors for the failure causes named in the protocol's error
// handling design: peer-closed/reset/timeout collapse to a generic I/O
// failure that trips the supervisor's fail-event, and a malformed frame is
// treated identically to a peer-closed connection.
var (
	// ErrPeerClosed covers a clean FIN, a reset, and any other non-timeout
	// I/O failure.
	ErrPeerClosed = errors.New("link: peer closed connection")

	// ErrTimeout covers both read and write deadline expiry.
	ErrTimeout = errors.New("link: i/o timeout")

	// ErrMalformedFrame is returned (wrapped with detail) by ParseFrame when
	// a line fails to parse as a data, ack, or keepalive frame. Readers tear
	// the connection down on it exactly as on ErrPeerClosed.
	ErrMalformedFrame = errors.New("link: malformed frame")

	// ErrNotConnected is returned by send paths attempted with no live
	// socket.
	ErrNotConnected = errors.New("link: not connected")

	// ErrClosed is returned by blocking calls when the owning engine has
	// been shut down.
	ErrClosed = errors.New("link: engine closed")
)
