package entity

import "errors"

// Domain errors for the entity package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, entity.ErrEntityNotFound) {
//	    // handle not found case
//	}
var (
	// ErrEntityNotFound is returned when an entity ID does not exist
	// in the mapping table.
	ErrEntityNotFound = errors.New("entity: not found")

	// ErrInvalidMapping is returned when the device mapping file fails
	// validation. Mapping errors are fatal at startup.
	ErrInvalidMapping = errors.New("entity: invalid mapping")

	// ErrInvalidClass is returned when a device class is not recognised.
	ErrInvalidClass = errors.New("entity: invalid device class")

	// ErrInvalidCapability is returned when a capability is not recognised.
	ErrInvalidCapability = errors.New("entity: invalid capability")

	// ErrUnsupportedCapability is returned when a command requests an
	// action the entity's capability set does not include.
	ErrUnsupportedCapability = errors.New("entity: unsupported capability")

	// ErrInvalidParameter is returned when a command parameter is
	// outside the legal range for its signal.
	ErrInvalidParameter = errors.New("entity: invalid parameter")
)
