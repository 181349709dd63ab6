package controller

import "errors"

var (
	// ErrInstrumentNil indicates that a nil instrument was provided.
	ErrInstrumentNil = errors.New("instrument is nil")

	// ErrBridgeClosed indicates that the bridge has been closed.
	ErrBridgeClosed = errors.New("bridge closed")

	// ErrCannotSubmit indicates that a scan was submitted before the instrument signalled it is ready.
	ErrCannotSubmit = errors.New("instrument has not signalled ready for the next custom scan")

	// ErrAlreadyRunning indicates that Run was called on a controller that already ran.
	ErrAlreadyRunning = errors.New("controller already running")
)
