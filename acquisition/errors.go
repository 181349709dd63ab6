package acquisition

import "errors"

var (
	// ErrInvalidRequest indicates that a custom scan request carries out of range parameters.
	ErrInvalidRequest = errors.New("invalid custom scan request")

	// ErrInvalidScanType indicates that a scan type name could not be parsed.
	ErrInvalidScanType = errors.New("invalid scan type, should be Full or MSn")
)

var (
	// ErrRejectedBusy is the error form of RejectBusy.
	// A custom scan is already in flight.
	ErrRejectedBusy = errors.New("custom scan rejected: instrument busy")

	// ErrRejectedExhausted is the error form of RejectExhausted.
	// The recording holds no more spectra of the requested scan type.
	ErrRejectedExhausted = errors.New("custom scan rejected: no more spectra for scan type")
)
