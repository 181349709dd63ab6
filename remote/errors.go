package remote

import "errors"

var (
	// ErrInstrumentNil indicates that a nil instrument was provided to NewServer.
	ErrInstrumentNil = errors.New("instrument is nil")

	// ErrClientClosed indicates that the client connection is closed.
	ErrClientClosed = errors.New("remote client closed")

	// ErrReplyTimeout indicates that the server did not answer a request within the reply timeout.
	ErrReplyTimeout = errors.New("remote reply timeout")

	// ErrRemote indicates that the server answered a request with an error.
	ErrRemote = errors.New("remote instrument error")

	// ErrHandshake indicates that the server did not open the session with a hello frame.
	ErrHandshake = errors.New("remote handshake failed")
)
