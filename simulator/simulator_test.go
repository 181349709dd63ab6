package simulator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-msbridge/acquisition"
	"github.com/arloliu/go-msbridge/logger"
	"github.com/arloliu/go-msbridge/spectrum"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func fullReq(rn int64) acquisition.CustomScanRequest {
	return acquisition.CustomScanRequest{ScanType: acquisition.FullScan, RunningNumber: rn}
}

func msnReq(rn int64) acquisition.CustomScanRequest {
	return acquisition.CustomScanRequest{
		ScanType:        acquisition.MSnScan,
		PrecursorMass:   500,
		IsolationWidth:  0.7,
		CollisionEnergy: 30,
		RunningNumber:   rn,
	}
}

func newVirtualSim(t *testing.T, spectra []spectrum.Spectrum, opts ...Option) (*Simulator, *VirtualScheduler) {
	t.Helper()

	sched := NewVirtualScheduler(epoch)
	opts = append([]Option{WithScheduler(sched), WithLogger(logger.NewNop())}, opts...)
	sim, err := New(context.Background(), spectra, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sim.Close() })

	return sim, sched
}

func TestSimulatorSequentialFullScans(t *testing.T) {
	require := require.New(t)

	recording := []spectrum.Spectrum{spec(1, 1, 0.0), spec(2, 1, 1.0), spec(3, 1, 2.5)}
	sim, sched := newVirtualSim(t, recording, WithTerminalDuration(15*time.Second))
	ctx := context.Background()

	var arrived []*acquisition.ResultScan
	var readyAt []time.Time
	nextRN := int64(1)

	sim.OnScanArrived(func(scan *acquisition.ResultScan) {
		// scan-arrived is published before the instrument becomes ready
		require.Equal(acquisition.BusyState, sim.State())
		arrived = append(arrived, scan)
	})
	sim.OnReadyForNext(func() {
		require.Equal(acquisition.ReadyState, sim.State())
		readyAt = append(readyAt, sched.Now())
		nextRN++
		_, _ = sim.SubmitCustomScan(ctx, fullReq(nextRN))
	})

	res, err := sim.SubmitCustomScan(ctx, fullReq(nextRN))
	require.NoError(err)
	require.True(res.Accepted)
	require.Equal(acquisition.BusyState, sim.State())

	require.Equal(3, sched.RunUntilIdle())

	require.Len(arrived, 3)
	require.Equal([]int{1, 2, 3}, []int{arrived[0].ScanNumber, arrived[1].ScanNumber, arrived[2].ScanNumber})
	require.Equal([]int64{1, 2, 3}, []int64{arrived[0].RunningNumber, arrived[1].RunningNumber, arrived[2].RunningNumber})

	require.Equal(60*time.Second, arrived[0].Elapsed)
	require.Equal(150*time.Second, arrived[1].Elapsed)
	require.Equal(165*time.Second, arrived[2].Elapsed)
	require.Equal([]time.Time{epoch.Add(60 * time.Second), epoch.Add(150 * time.Second), epoch.Add(165 * time.Second)}, readyAt)

	// the fourth submission, made from the last ready handler, found the queue empty
	require.Equal(acquisition.ReadyState, sim.State())
	require.Equal(uint64(4), sim.Metrics().SubmitCount.Load())
	require.Equal(uint64(3), sim.Metrics().AcceptCount.Load())
	require.Equal(uint64(1), sim.Metrics().ExhaustedRejectCount.Load())
	require.Equal(uint64(3), sim.Metrics().DeliveredCount.Load())
	require.Equal(int64(0), sim.Metrics().InflightGauge.Load())

	last, ok := sim.LastScan()
	require.True(ok)
	require.Equal(3, last.ScanNumber)
}

func TestSimulatorRejectsWhileBusy(t *testing.T) {
	require := require.New(t)

	sim, sched := newVirtualSim(t, []spectrum.Spectrum{spec(1, 1, 0.0), spec(2, 1, 0.5), spec(3, 2, 0.6)})
	ctx := context.Background()

	var arrived []int
	sim.OnScanArrived(func(scan *acquisition.ResultScan) { arrived = append(arrived, scan.ScanNumber) })

	res, err := sim.SubmitCustomScan(ctx, fullReq(1))
	require.NoError(err)
	require.True(res.Accepted)

	res, err = sim.SubmitCustomScan(ctx, fullReq(2))
	require.NoError(err)
	require.False(res.Accepted)
	require.Equal(acquisition.RejectBusy, res.Reason)

	// a busy rejection applies regardless of scan type and consumes nothing
	res, err = sim.SubmitCustomScan(ctx, msnReq(3))
	require.NoError(err)
	require.Equal(acquisition.RejectBusy, res.Reason)
	require.Equal(1, sim.Remaining(acquisition.FullScan))
	require.Equal(1, sim.Remaining(acquisition.MSnScan))
	require.Equal(1, sched.Pending())

	sched.RunUntilIdle()
	require.Equal([]int{1}, arrived)
	require.Equal(uint64(2), sim.Metrics().BusyRejectCount.Load())
}

func TestSimulatorExhausted(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	t.Run("No MSn spectra", func(t *testing.T) {
		sim, sched := newVirtualSim(t, []spectrum.Spectrum{spec(1, 1, 0.0), spec(2, 1, 1.0)})

		readyCount := 0
		sim.OnReadyForNext(func() { readyCount++ })

		require.Equal(acquisition.ReadyState, sim.State())
		res, err := sim.SubmitCustomScan(ctx, msnReq(1))
		require.NoError(err)
		require.Equal(acquisition.Rejected(acquisition.RejectExhausted), res)
		require.Equal(acquisition.ReadyState, sim.State())
		require.Equal(0, sched.Pending())
		require.Equal(0, readyCount)
	})

	t.Run("Empty recording", func(t *testing.T) {
		sim, _ := newVirtualSim(t, nil)

		for _, req := range []acquisition.CustomScanRequest{fullReq(1), msnReq(2)} {
			res, err := sim.SubmitCustomScan(ctx, req)
			require.NoError(err)
			require.Equal(acquisition.RejectExhausted, res.Reason)
		}

		_, ok := sim.LastScan()
		require.False(ok)
	})

	t.Run("Deliveries never exceed recorded count", func(t *testing.T) {
		sim, sched := newVirtualSim(t, []spectrum.Spectrum{spec(1, 1, 0.0), spec(2, 2, 0.1), spec(3, 2, 0.2)})

		delivered := map[int]int{}
		sim.OnScanArrived(func(scan *acquisition.ResultScan) { delivered[scan.MSLevel]++ })

		for i := 0; i < 5; i++ {
			_, err := sim.SubmitCustomScan(ctx, msnReq(int64(i)))
			require.NoError(err)
			sched.RunUntilIdle()
		}
		for i := 0; i < 3; i++ {
			_, err := sim.SubmitCustomScan(ctx, fullReq(int64(i)))
			require.NoError(err)
			sched.RunUntilIdle()
		}

		require.Equal(map[int]int{1: 1, 2: 2}, delivered)
		require.Equal(acquisition.ReadyState, sim.State())

		res, err := sim.SubmitCustomScan(ctx, msnReq(99))
		require.NoError(err)
		require.Equal(acquisition.RejectExhausted, res.Reason)
	})
}

func TestSimulatorOrderPreservedPerType(t *testing.T) {
	require := require.New(t)

	recording := []spectrum.Spectrum{
		spec(10, 1, 0.00), spec(11, 2, 0.01), spec(12, 2, 0.02), spec(13, 1, 0.03), spec(14, 2, 0.04), spec(15, 1, 0.05),
	}
	sim, sched := newVirtualSim(t, recording)
	ctx := context.Background()

	var got []int
	sim.OnScanArrived(func(scan *acquisition.ResultScan) { got = append(got, scan.ScanNumber) })

	// interleave requests in an order unrelated to the recording
	for i, req := range []acquisition.CustomScanRequest{msnReq(1), msnReq(2), fullReq(3), msnReq(4), fullReq(5), fullReq(6)} {
		res, err := sim.SubmitCustomScan(ctx, req)
		require.NoError(err)
		require.True(res.Accepted, "request #%d", i)
		sched.RunUntilIdle()
	}

	require.Equal([]int{11, 12, 10, 14, 13, 15}, got)
}

func TestSimulatorProcessingDelay(t *testing.T) {
	require := require.New(t)

	sim, sched := newVirtualSim(t, []spectrum.Spectrum{spec(1, 1, 0.0), spec(2, 1, 1.0)}, WithProcessingDelay(true))

	req := fullReq(1)
	req.MaxProcessingDelay = 10 * time.Second
	res, err := sim.SubmitCustomScan(context.Background(), req)
	require.NoError(err)
	require.True(res.Accepted)

	require.Equal(0, sched.Advance(64*time.Second))
	require.Equal(1, sched.Advance(time.Second))
}

func TestSimulatorStateChangeHandlers(t *testing.T) {
	require := require.New(t)

	sim, sched := newVirtualSim(t, []spectrum.Spectrum{spec(1, 1, 0.0)})

	var transitions []string
	sim.OnStateChange(func(prev, cur acquisition.HandshakeState) {
		transitions = append(transitions, prev.String()+"->"+cur.String())
	})

	_, err := sim.SubmitCustomScan(context.Background(), fullReq(1))
	require.NoError(err)
	sched.RunUntilIdle()

	require.Equal([]string{"ready->busy", "busy->ready"}, transitions)
}

func TestSimulatorUnsubscribe(t *testing.T) {
	require := require.New(t)

	sim, sched := newVirtualSim(t, []spectrum.Spectrum{spec(1, 1, 0.0), spec(2, 1, 0.1)})
	ctx := context.Background()

	count := 0
	sub := sim.OnScanArrived(func(*acquisition.ResultScan) { count++ })

	_, _ = sim.SubmitCustomScan(ctx, fullReq(1))
	sched.RunUntilIdle()
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, _ = sim.SubmitCustomScan(ctx, fullReq(2))
	sched.RunUntilIdle()

	require.Equal(1, count)
}

func TestSimulatorInvalidRequest(t *testing.T) {
	require := require.New(t)

	sim, _ := newVirtualSim(t, []spectrum.Spectrum{spec(1, 1, 0.0)})

	req := msnReq(1)
	req.CollisionEnergy = 500
	_, err := sim.SubmitCustomScan(context.Background(), req)
	require.ErrorIs(err, acquisition.ErrInvalidRequest)
	require.Equal(acquisition.ReadyState, sim.State())
	require.Equal(uint64(0), sim.Metrics().SubmitCount.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.SubmitCustomScan(ctx, fullReq(1))
	require.ErrorIs(err, context.Canceled)
}

func TestSimulatorClose(t *testing.T) {
	require := require.New(t)

	sim, sched := newVirtualSim(t, []spectrum.Spectrum{spec(1, 1, 0.0), spec(2, 1, 1.0)})

	arrived := false
	sim.OnScanArrived(func(*acquisition.ResultScan) { arrived = true })

	_, err := sim.SubmitCustomScan(context.Background(), fullReq(1))
	require.NoError(err)

	require.NoError(sim.Close())
	require.NoError(sim.Close())
	require.Equal(0, sched.Pending())
	require.Equal(0, sched.RunUntilIdle())
	require.False(arrived)

	_, err = sim.SubmitCustomScan(context.Background(), fullReq(2))
	require.ErrorIs(err, ErrClosed)
}

func TestNewFromSource(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	t.Run("Load failure", func(t *testing.T) {
		failing := spectrum.SourceFunc(func(context.Context, string) ([]spectrum.Spectrum, error) {
			return nil, errors.New("disk on fire")
		})

		sim, err := NewFromSource(ctx, failing, "run.mzML", WithLogger(logger.NewNop()))
		require.Nil(sim)
		require.ErrorIs(err, spectrum.ErrSourceLoad)
		require.Contains(err.Error(), "disk on fire")
	})

	t.Run("Invalid recording", func(t *testing.T) {
		src := spectrum.StaticSource{spec(1, 1, 0.0), spec(1, 2, 0.1)}
		sim, err := NewFromSource(ctx, src, "dup", WithLogger(logger.NewNop()))
		require.Nil(sim)
		require.ErrorIs(err, spectrum.ErrSourceLoad)
	})

	t.Run("Static recording", func(t *testing.T) {
		src := spectrum.StaticSource{spec(1, 1, 0.0), spec(2, 2, 0.1)}
		sim, err := NewFromSource(ctx, src, "static", WithScheduler(NewVirtualScheduler(epoch)), WithLogger(logger.NewNop()))
		require.NoError(err)
		defer sim.Close()

		require.Equal(1, sim.Remaining(acquisition.FullScan))
		require.Equal(1, sim.Remaining(acquisition.MSnScan))
		require.Equal(epoch, sim.StartTime())
		require.Len(sim.PossibleParameters(), 3)
		require.Equal(DefaultTerminalDuration, sim.Durations().For(2, 0))
	})
}

func TestSimulatorRealtime(t *testing.T) {
	require := require.New(t)

	clk := clocktesting.NewFakeClock(epoch)
	sim, err := New(context.Background(), []spectrum.Spectrum{spec(1, 1, 0.0), spec(2, 1, 0.5)},
		WithClock(clk), WithLogger(logger.NewNop()))
	require.NoError(err)
	defer sim.Close()

	var mu sync.Mutex
	var got []*acquisition.ResultScan
	ready := make(chan struct{}, 1)
	sim.OnScanArrived(func(scan *acquisition.ResultScan) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, scan)
	})
	sim.OnReadyForNext(func() { ready <- struct{}{} })

	res, err := sim.SubmitCustomScan(context.Background(), fullReq(7))
	require.NoError(err)
	require.True(res.Accepted)
	waitForWaiters(t, clk)

	clk.Step(29 * time.Second)
	require.Never(func() bool { return len(ready) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clk.Step(time.Second)
	select {
	case <-ready:
	case <-time.After(time.Second):
		require.Fail("ready-for-next not published")
	}

	mu.Lock()
	require.Len(got, 1)
	require.Equal(1, got[0].ScanNumber)
	require.Equal(int64(7), got[0].RunningNumber)
	require.Equal(30*time.Second, got[0].Elapsed)
	mu.Unlock()

	require.Eventually(func() bool { return sim.State().IsReady() }, time.Second, time.Millisecond)
}

func TestSimulatorConcurrentSubmitters(t *testing.T) {
	require := require.New(t)

	const (
		spectraCount = 200
		submitters   = 8
	)

	recording := make([]spectrum.Spectrum, 0, spectraCount)
	for i := 1; i <= spectraCount; i++ {
		recording = append(recording, spec(i, 1, 0.0))
	}

	sim, err := New(context.Background(), recording, WithTerminalDuration(0), WithLogger(logger.NewNop()))
	require.NoError(err)
	defer sim.Close()

	var (
		inflight    atomic.Int64
		maxInflight atomic.Int64
		gaugeMax    atomic.Int64
		busyOnScan  atomic.Bool
		mu          sync.Mutex
		arrived     []int
	)
	busyOnScan.Store(true)

	sim.OnStateChange(func(prev, cur acquisition.HandshakeState) {
		switch {
		case prev.IsReady() && cur.IsBusy():
			n := inflight.Add(1)
			for {
				m := maxInflight.Load()
				if n <= m || maxInflight.CompareAndSwap(m, n) {
					break
				}
			}
		case prev.IsBusy() && cur.IsReady():
			inflight.Add(-1)
		}
	})
	sim.OnScanArrived(func(scan *acquisition.ResultScan) {
		if !sim.State().IsBusy() {
			busyOnScan.Store(false)
		}
		if g := sim.Metrics().InflightGauge.Load(); g > gaugeMax.Load() {
			gaugeMax.Store(g)
		}

		mu.Lock()
		arrived = append(arrived, scan.ScanNumber)
		mu.Unlock()
	})

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		nextRN   atomic.Int64
	)
	errCh := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res, err := sim.SubmitCustomScan(context.Background(), fullReq(nextRN.Add(1)))
				if err != nil {
					errCh <- err
					return
				}
				switch {
				case res.Accepted:
					accepted.Add(1)
				case res.Reason == acquisition.RejectExhausted:
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		require.FailNow("submitters did not drain the recording")
	}
	close(errCh)
	for err := range errCh {
		require.NoError(err)
	}

	require.Eventually(func() bool { return sim.State().IsReady() }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	want := make([]int, 0, spectraCount)
	for i := 1; i <= spectraCount; i++ {
		want = append(want, i)
	}
	require.Equal(want, arrived)
	require.Equal(int64(spectraCount), accepted.Load())
	require.Equal(uint64(spectraCount), sim.Metrics().DeliveredCount.Load())
	require.Equal(int64(1), maxInflight.Load())
	require.LessOrEqual(gaugeMax.Load(), int64(1))
	require.Equal(int64(0), inflight.Load())
	require.True(busyOnScan.Load())
}

func TestSimulatorScheduleFailure(t *testing.T) {
	require := require.New(t)

	sim, sched := newVirtualSim(t, []spectrum.Spectrum{spec(1, 1, 0.0)})

	var transitions int
	sim.OnStateChange(func(_, _ acquisition.HandshakeState) { transitions++ })

	sched.Stop()
	_, err := sim.SubmitCustomScan(context.Background(), fullReq(1))
	require.ErrorIs(err, ErrSchedulerStopped)

	// nothing is consumed and the handshake stays ready
	require.Equal(acquisition.ReadyState, sim.State())
	require.Equal(1, sim.Remaining(acquisition.FullScan))
	require.Zero(transitions)
	require.Equal(uint64(0), sim.Metrics().AcceptCount.Load())
}
