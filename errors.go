package mqttd

import "errors"

// Errors shared by the codec, the session and the server.
var (
	// ErrMalformedPacket is returned for frames whose body does not match
	// their fixed header.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrUnsupportedDirection is returned when encoding a packet type that
	// only clients send.
	ErrUnsupportedDirection = errors.New("packet type cannot be sent by the server")

	// ErrProtocolViolation is returned by handlers for packets that are valid
	// on the wire but not allowed in the current session state.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrConnectionRefused is returned after a CONNACK with a non-zero return code.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrServerClosed is returned by Serve after Close.
	ErrServerClosed = errors.New("server closed")
)
