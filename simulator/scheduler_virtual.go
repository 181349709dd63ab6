package simulator

import (
	"sync"
	"time"
)

// VirtualScheduler is a deterministic Scheduler whose time only moves when told to.
//
// Deliveries run synchronously on the goroutine calling Advance or RunUntilIdle, outside the
// scheduler's lock, so a delivery may schedule further deliveries. A delivery scheduled with a
// zero duration during Advance fires within that same call.
type VirtualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	pending deliveryQueue
	stopped bool
}

var _ Scheduler = (*VirtualScheduler)(nil)

// NewVirtualScheduler creates a VirtualScheduler whose clock starts at start.
func NewVirtualScheduler(start time.Time) *VirtualScheduler {
	return &VirtualScheduler{now: start}
}

func (v *VirtualScheduler) Schedule(d time.Duration, fn func()) error {
	if d < 0 {
		d = 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stopped {
		return ErrSchedulerStopped
	}
	v.pending.push(v.now.Add(d), fn)

	return nil
}

func (v *VirtualScheduler) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.now
}

func (v *VirtualScheduler) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.pending.size()
}

func (v *VirtualScheduler) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.stopped = true
	v.pending.reset()
}

// NextDue returns the due time of the earliest pending delivery.
func (v *VirtualScheduler) NextDue() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	next, ok := v.pending.peek()
	if !ok {
		return time.Time{}, false
	}

	return next.due, true
}

// Advance moves the clock forward by d, firing every delivery that becomes due on the way in
// due order. The clock reads each delivery's due time while it runs. It returns the number of
// deliveries fired.
func (v *VirtualScheduler) Advance(d time.Duration) int {
	if d < 0 {
		d = 0
	}

	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	fired := 0
	for {
		v.mu.Lock()
		next, ok := v.pending.peek()
		if v.stopped || !ok || next.due.After(target) {
			if !v.stopped && target.After(v.now) {
				v.now = target
			}
			v.mu.Unlock()

			return fired
		}

		v.pending.pop()
		if next.due.After(v.now) {
			v.now = next.due
		}
		v.mu.Unlock()

		next.fn()
		fired++
	}
}

// RunUntilIdle fires pending deliveries in due order, moving the clock to each due time, until
// none are left. It returns the number of deliveries fired.
func (v *VirtualScheduler) RunUntilIdle() int {
	fired := 0
	for {
		v.mu.Lock()
		if v.stopped || v.pending.size() == 0 {
			v.mu.Unlock()
			return fired
		}

		next := v.pending.pop()
		if next.due.After(v.now) {
			v.now = next.due
		}
		v.mu.Unlock()

		next.fn()
		fired++
	}
}
