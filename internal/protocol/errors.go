package protocol

import "errors"

var (
	// ErrMalformedField is returned when a field cursor is exhausted or a
	// field does not parse as the requested kind. The frame is dropped; the
	// connection stays open.
	ErrMalformedField = errors.New("malformed field")

	// ErrOversizedPacket is returned when a frame or buffer would grow past
	// MaxPacketSize.
	ErrOversizedPacket = errors.New("oversized packet")
)
