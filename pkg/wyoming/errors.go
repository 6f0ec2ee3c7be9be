package wyoming

import "errors"

var (
	// ErrFraming is returned when a header line, data section, or payload
	// section cannot be parsed or is truncated. Fatal for the connection.
	ErrFraming = errors.New("wyoming: malformed frame")

	// ErrTransport wraps a socket-level failure on a peer connection.
	ErrTransport = errors.New("wyoming: transport error")

	// ErrProtocol marks an unexpected or missing message for the current
	// handshake phase (e.g. info never arrived) or an unsupported peer URI.
	// A handshake failure ends that connection attempt; the peer reconnects.
	ErrProtocol = errors.New("wyoming: protocol violation")
)
