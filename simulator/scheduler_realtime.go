package simulator

import (
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/arloliu/go-msbridge/logger"
)

// RealtimeScheduler delivers completions on a single dispatcher goroutine once the clock
// reaches their due time.
//
// Deliveries run one at a time in due order. After Stop returns no further delivery starts;
// a delivery already running when Stop is called is allowed to finish.
type RealtimeScheduler struct {
	clk    clock.Clock
	logger logger.Logger

	mu      sync.Mutex
	pending deliveryQueue
	stopped bool

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

var _ Scheduler = (*RealtimeScheduler)(nil)

// NewRealtimeScheduler creates a RealtimeScheduler on clk and starts its dispatcher goroutine.
// A nil clk uses the wall clock, a nil logger the global logger.
func NewRealtimeScheduler(clk clock.Clock, l logger.Logger) *RealtimeScheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if l == nil {
		l = logger.GetLogger()
	}

	s := &RealtimeScheduler{
		clk:    clk,
		logger: l,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go s.dispatch()

	return s
}

func (s *RealtimeScheduler) Schedule(d time.Duration, fn func()) error {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.pending.push(s.clk.Now().Add(d), fn)
	s.mu.Unlock()

	// wake the dispatcher in case the new delivery is due before the one it waits for
	select {
	case s.wake <- struct{}{}:
	default:
	}

	return nil
}

func (s *RealtimeScheduler) Now() time.Time {
	return s.clk.Now()
}

func (s *RealtimeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending.size()
}

// Stop discards pending deliveries and terminates the dispatcher. It is safe to call Stop more
// than once and from within a delivery.
func (s *RealtimeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	s.stopped = true
	if n := s.pending.size(); n > 0 {
		s.logger.Debug("discard undelivered notifications", "count", n)
	}
	s.pending.reset()
	close(s.stopCh)
}

// Done returns a channel closed once the dispatcher goroutine exited.
func (s *RealtimeScheduler) Done() <-chan struct{} {
	return s.done
}

func (s *RealtimeScheduler) dispatch() {
	defer close(s.done)

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		now := s.clk.Now()
		due := s.pending.popDue(now)

		var timer clock.Timer
		var timerC <-chan time.Time
		if next, ok := s.pending.peek(); ok && len(due) == 0 {
			timer = s.clk.NewTimer(next.due.Sub(now))
			timerC = timer.C()
		}
		s.mu.Unlock()

		if len(due) > 0 {
			for _, d := range due {
				if s.isStopped() {
					return
				}
				s.invoke(d.fn)
			}

			continue
		}

		select {
		case <-s.stopCh:
		case <-s.wake:
		case <-timerC:
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *RealtimeScheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopped
}

func (s *RealtimeScheduler) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("delivery panic", "error", fmt.Sprint(r))
		}
	}()

	fn()
}
