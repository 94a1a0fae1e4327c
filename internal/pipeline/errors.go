package pipeline

import "errors"

// Domain errors for the pipeline package.
var (
	// ErrUnknownAction is returned when a command names an action no
	// strategy exists for.
	ErrUnknownAction = errors.New("pipeline: unknown action")

	// ErrNoInterface is returned when a command targets an entity
	// whose bus interface is not attached to the commander.
	ErrNoInterface = errors.New("pipeline: bus interface not available")

	// ErrAlreadyRunning is returned when Start is called on a running
	// runner.
	ErrAlreadyRunning = errors.New("pipeline: already running")
)
