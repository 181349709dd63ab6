// Package pool holds reusable timers for request/reply waits.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Await when the reply did not arrive in time.
var ErrTimeout = errors.New("reply timeout")

var timerPool sync.Pool

// GetTimer returns a timer for the given duration d from the pool.
//
// Return back the timer to the pool with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer)
		t.Reset(d)

		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t and returns it to the pool.
//
// t cannot be accessed after returning to the pool.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// drain t.C if it wasn't obtained by the caller yet
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

// Await waits for a value on ch, bounded by timeout and ctx.
//
// It returns ErrTimeout when the timer fires first and ctx.Err() when the context is done first.
// A closed channel yields the zero value and a nil error; callers that close channels to signal
// failure check the value themselves.
func Await[T any](ctx context.Context, ch <-chan T, timeout time.Duration) (T, error) {
	var zero T

	timer := GetTimer(timeout)
	defer PutTimer(timer)

	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
