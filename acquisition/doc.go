// Package acquisition defines the contract between a control layer and a mass spectrometer that
// accepts custom scans.
//
// A client submits a CustomScanRequest and, when the instrument accepts it, later receives two
// asynchronous notifications: a scan-arrived event carrying the ResultScan, followed by a
// ready-for-next event that signals the instrument can take another request. At most one
// custom scan is in flight at any time; submissions made while the instrument is busy, or after
// the instrument ran out of data for the requested scan type, are rejected with a reason rather
// than with an error.
//
// The Instrument interface has two implementations in this module: a recorded-replay simulator
// (package simulator) and a websocket client for a remote instrument service (package remote).
package acquisition
