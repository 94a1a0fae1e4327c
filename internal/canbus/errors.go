package canbus

import "errors"

// Domain errors for the canbus package.
var (
	// ErrConnectionFailed is returned when the initial connection to
	// the CAN gateway cannot be established.
	ErrConnectionFailed = errors.New("canbus: connection failed")

	// ErrNotConnected is returned when an operation requires a live
	// connection and there is none.
	ErrNotConnected = errors.New("canbus: not connected")

	// ErrSendFailed is returned when writing a frame to the gateway fails.
	ErrSendFailed = errors.New("canbus: send failed")

	// ErrClosed is returned by Receive after Close has been called.
	ErrClosed = errors.New("canbus: client closed")

	// ErrInvalidWireFormat is returned when a line from the gateway
	// cannot be parsed as a CAN frame.
	ErrInvalidWireFormat = errors.New("canbus: invalid wire format")
)
