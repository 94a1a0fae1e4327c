package rvc

import "errors"

// Domain errors for the RV-C codec package.
var (
	// ErrInvalidFrame is returned when a CAN frame fails validation
	// (identifier out of range or payload longer than 8 bytes).
	ErrInvalidFrame = errors.New("rvc: invalid CAN frame")

	// ErrInvalidSpec is returned when the protocol specification table
	// fails validation at load time.
	ErrInvalidSpec = errors.New("rvc: invalid protocol specification")

	// ErrUnknownDGN is returned by encode paths when no message
	// definition exists for the requested DGN.
	ErrUnknownDGN = errors.New("rvc: unknown DGN")

	// ErrUnknownSignal is returned when a signal name is not part of
	// the message definition being encoded.
	ErrUnknownSignal = errors.New("rvc: unknown signal")

	// ErrValueOutOfRange is returned when a value cannot be represented
	// within a signal's declared bit range and scaling.
	ErrValueOutOfRange = errors.New("rvc: value out of range")

	// ErrNotEncodable is returned when a signal kind cannot be encoded
	// from the supplied value type (e.g. ascii from a number).
	ErrNotEncodable = errors.New("rvc: signal not encodable")
)
