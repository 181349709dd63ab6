package simulator

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-msbridge/acquisition"
	"github.com/arloliu/go-msbridge/logger"
)

// StateChangeHandler is invoked after each handshake transition.
//
// Note: the handler will be invoked in a blocking mode on the goroutine that caused the transition.
// Take care with long-running implementations.
type StateChangeHandler func(prevState acquisition.HandshakeState, newState acquisition.HandshakeState)

// handshake is the Ready/Busy state machine of the simulator.
//
// Transitions and notifications are made by the simulator while it holds its own lock, so
// handlers observe transitions in order. State reads are lock free.
type handshake struct {
	state      atomic.Uint32
	logger     logger.Logger
	handlersMu sync.RWMutex
	handlers   []StateChangeHandler
}

func newHandshake(l logger.Logger) *handshake {
	hs := &handshake{logger: l}
	hs.state.Store(uint32(acquisition.ReadyState))

	return hs
}

// State returns the current handshake state.
func (hs *handshake) State() acquisition.HandshakeState {
	return acquisition.HandshakeState(hs.state.Load())
}

func (hs *handshake) addHandler(handlers ...StateChangeHandler) {
	hs.handlersMu.Lock()
	defer hs.handlersMu.Unlock()
	hs.handlers = append(hs.handlers, handlers...)
}

// toBusy moves Ready to Busy. It is the only way a custom scan becomes in flight.
func (hs *handshake) toBusy() error {
	if !hs.state.CompareAndSwap(uint32(acquisition.ReadyState), uint32(acquisition.BusyState)) {
		return ErrInvalidTransition
	}
	hs.logger.Debug("handshake state changed", "prev_state", acquisition.ReadyState, "new_state", acquisition.BusyState)

	return nil
}

// toReady moves Busy to Ready once a delivery completed.
func (hs *handshake) toReady() error {
	if !hs.state.CompareAndSwap(uint32(acquisition.BusyState), uint32(acquisition.ReadyState)) {
		return ErrInvalidTransition
	}
	hs.logger.Debug("handshake state changed", "prev_state", acquisition.BusyState, "new_state", acquisition.ReadyState)

	return nil
}

func (hs *handshake) notify(prevState, newState acquisition.HandshakeState) {
	hs.handlersMu.RLock()
	handlers := make([]StateChangeHandler, len(hs.handlers))
	copy(handlers, hs.handlers)
	hs.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(prevState, newState)
	}
}
