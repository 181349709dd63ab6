package simulator

import "errors"

var (
	// ErrConfigNil indicates that a nil Config was provided to an option.
	ErrConfigNil = errors.New("simulator config is nil")

	// ErrClosed indicates that the simulator has been closed.
	ErrClosed = errors.New("simulator closed")

	// ErrSchedulerStopped indicates that a delivery was scheduled after the scheduler was stopped.
	ErrSchedulerStopped = errors.New("delivery scheduler stopped")
)

var (
	// ErrInvalidTransition is returned when the handshake state machine is asked for a transition
	// its current state does not allow.
	ErrInvalidTransition = errors.New("invalid handshake state transition")
)
