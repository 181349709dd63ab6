package acquisition

import "context"

// ScanArrivedHandler is invoked with the result of every delivered custom scan.
//
// Note: handlers are invoked synchronously in subscription order on the delivering goroutine.
// Take care with long-running implementations.
type ScanArrivedHandler func(scan *ResultScan)

// ReadyHandler is invoked each time the instrument returns to ReadyState after a delivery.
// A handler may submit the next custom scan.
type ReadyHandler func()

// Instrument is a scan-control endpoint that accepts one custom scan at a time.
type Instrument interface {
	// SubmitCustomScan asks the instrument to acquire one scan.
	//
	// Rejections are reported through SubmitResult, not through the error. The error is
	// non-nil only when the request is invalid or the instrument cannot be reached.
	SubmitCustomScan(ctx context.Context, req CustomScanRequest) (SubmitResult, error)

	// OnScanArrived registers a scan-arrived handler.
	OnScanArrived(handler ScanArrivedHandler) *Subscription

	// OnReadyForNext registers a ready-for-next handler.
	OnReadyForNext(handler ReadyHandler) *Subscription

	// LastScan returns the most recently delivered result scan, if any.
	LastScan() (*ResultScan, bool)

	// State returns the current handshake state.
	State() HandshakeState

	// PossibleParameters lists the custom scan parameters the instrument understands.
	PossibleParameters() []ParameterDescription

	// Close releases the instrument. Pending deliveries are discarded.
	Close() error
}
