package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-msbridge/acquisition"
	"github.com/arloliu/go-msbridge/logger"
	"github.com/arloliu/go-msbridge/simulator"
	"github.com/arloliu/go-msbridge/spectrum"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ms1(scan int, rt float64, peaks ...spectrum.Peak) spectrum.Spectrum {
	return spectrum.Spectrum{ScanNumber: scan, MSLevel: 1, RetentionTime: rt, Centroided: true, Peaks: peaks}
}

func ms2(scan int, rt float64) spectrum.Spectrum {
	return spectrum.Spectrum{ScanNumber: scan, MSLevel: 2, RetentionTime: rt, Centroided: true, Peaks: []spectrum.Peak{{MZ: 50, Intensity: 10}}}
}

func newSim(t *testing.T, spectra []spectrum.Spectrum) (*simulator.Simulator, *simulator.VirtualScheduler) {
	t.Helper()

	sched := simulator.NewVirtualScheduler(epoch)
	sim, err := simulator.New(context.Background(), spectra, simulator.WithScheduler(sched), simulator.WithLogger(logger.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sim.Close() })

	return sim, sched
}

func TestNewBridge(t *testing.T) {
	require := require.New(t)

	_, err := NewBridge(nil)
	require.ErrorIs(err, ErrInstrumentNil)

	sim, _ := newSim(t, nil)
	_, err = NewBridge(sim, WithRunningNumberBase(-1))
	require.Error(err)
	_, err = NewBridge(sim, WithRunningNumberBase(0))
	require.Error(err)
	_, err = NewBridge(sim, WithBridgeLogger(nil))
	require.Error(err)
	_, err = NewBridge(sim, WithMaxProcessingDelay(-time.Second))
	require.Error(err)

	b, err := NewBridge(sim, WithBridgeLogger(logger.NewNop()))
	require.NoError(err)
	require.True(b.CanSubmit())
	require.Equal(sim, b.Instrument())
}

func TestBridgeSubmitScan(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim, sched := newSim(t, []spectrum.Spectrum{ms1(1, 0.0, spectrum.Peak{MZ: 100, Intensity: 1}), ms1(2, 0.1)})
	b, err := NewBridge(sim, WithBridgeLogger(logger.NewNop()))
	require.NoError(err)

	var scans []*acquisition.ResultScan
	readyCount := 0
	b.OnScan(func(scan *acquisition.ResultScan) { scans = append(scans, scan) })
	b.OnReady(func() {
		require.True(b.CanSubmit())
		readyCount++
	})

	rn, res, err := b.SubmitScan(ctx, ScanParams{ScanType: acquisition.FullScan})
	require.NoError(err)
	require.True(res.Accepted)
	require.Equal(DefaultRunningNumberBase, rn)
	require.False(b.CanSubmit())

	_, _, err = b.SubmitScan(ctx, ScanParams{ScanType: acquisition.FullScan})
	require.ErrorIs(err, ErrCannotSubmit)

	sched.RunUntilIdle()
	require.True(b.CanSubmit())
	require.Equal(1, readyCount)
	require.Len(scans, 1)
	require.Equal(DefaultRunningNumberBase, scans[0].RunningNumber)

	id, ok := scans[0].Trailer(acquisition.TrailerAccessID)
	require.True(ok)
	require.Equal("12345", id)

	rn, res, err = b.SubmitScan(ctx, ScanParams{ScanType: acquisition.FullScan})
	require.NoError(err)
	require.True(res.Accepted)
	require.Equal(DefaultRunningNumberBase+1, rn)
	sched.RunUntilIdle()

	t.Run("Reserved running number", func(t *testing.T) {
		reserved := b.NextRunningNumber()
		require.Equal(DefaultRunningNumberBase+2, reserved)

		rn, res, err := b.SubmitScan(ctx, ScanParams{ScanType: acquisition.MSnScan, PrecursorMass: 500, RunningNumber: reserved})
		require.NoError(err)
		require.Equal(acquisition.RejectExhausted, res.Reason)
		require.Equal(reserved, rn)
	})

	t.Run("Exhausted keeps the bridge ready", func(t *testing.T) {
		_, res, err := b.SubmitScan(ctx, ScanParams{ScanType: acquisition.FullScan})
		require.NoError(err)
		require.Equal(acquisition.RejectExhausted, res.Reason)
		require.True(b.CanSubmit())
	})

	t.Run("Invalid request", func(t *testing.T) {
		_, _, err := b.SubmitScan(ctx, ScanParams{ScanType: acquisition.MSnScan, CollisionEnergy: 1000})
		require.ErrorIs(err, acquisition.ErrInvalidRequest)
		require.True(b.CanSubmit())
	})

	t.Run("Close", func(t *testing.T) {
		require.NoError(b.Close())
		require.NoError(b.Close())
		require.False(b.CanSubmit())

		_, _, err := b.SubmitScan(ctx, ScanParams{ScanType: acquisition.FullScan})
		require.ErrorIs(err, ErrBridgeClosed)
	})
}

func TestBridgeLogging(t *testing.T) {
	require := require.New(t)

	sim, sched := newSim(t, []spectrum.Spectrum{ms1(1, 0.0)})
	capture := logger.NewCapture(logger.DebugLevel)
	b, err := NewBridge(sim, WithBridgeLogger(capture), WithRunningNumberBase(1))
	require.NoError(err)

	b.DumpPossibleParameters()
	params := 0
	for _, e := range capture.Entries() {
		if e.Message == "scan control parameter" {
			params++
		}
	}
	require.Equal(3, params)

	_, _, err = b.SubmitScan(context.Background(), ScanParams{ScanType: acquisition.FullScan, FirstMass: 150, LastMass: 2000})
	require.NoError(err)
	sched.RunUntilIdle()

	debug := capture.Messages(logger.DebugLevel)
	require.Contains(debug, "custom scan values")
	require.Contains(debug, "scan header")
	require.Contains(capture.Messages(logger.InfoLevel), "received MS scan")

	for _, e := range capture.Entries() {
		if e.Message == "custom scan values" {
			v, ok := e.Field("values")
			require.True(ok)
			require.Contains(v, "OrbitrapResolution=120000")
			require.Contains(v, "ScanType=Full")
		}
	}
}

// contendedInstrument always answers busy. When readyDuringSubmit is set, the scan of another
// session completes while the submit is being answered.
type contendedInstrument struct {
	readyDuringSubmit bool
	readyBus          *acquisition.Bus[struct{}]
}

func newContendedInstrument(readyDuringSubmit bool) *contendedInstrument {
	return &contendedInstrument{
		readyDuringSubmit: readyDuringSubmit,
		readyBus:          acquisition.NewBus[struct{}]("ready", logger.NewNop()),
	}
}

func (f *contendedInstrument) SubmitCustomScan(context.Context, acquisition.CustomScanRequest) (acquisition.SubmitResult, error) {
	if f.readyDuringSubmit {
		f.readyBus.Publish(struct{}{})
	}

	return acquisition.Rejected(acquisition.RejectBusy), nil
}

func (f *contendedInstrument) OnScanArrived(acquisition.ScanArrivedHandler) *acquisition.Subscription {
	return acquisition.NewSubscription(func() {})
}

func (f *contendedInstrument) OnReadyForNext(handler acquisition.ReadyHandler) *acquisition.Subscription {
	return f.readyBus.Subscribe(func(struct{}) { handler() })
}

func (f *contendedInstrument) LastScan() (*acquisition.ResultScan, bool) { return nil, false }

func (f *contendedInstrument) State() acquisition.HandshakeState { return acquisition.ReadyState }

func (f *contendedInstrument) PossibleParameters() []acquisition.ParameterDescription { return nil }

func (f *contendedInstrument) Close() error { return nil }

func TestBridgeBusyReject(t *testing.T) {
	t.Run("Busy clears CanSubmit", func(t *testing.T) {
		require := require.New(t)

		b, err := NewBridge(newContendedInstrument(false), WithBridgeLogger(logger.NewNop()))
		require.NoError(err)

		_, res, err := b.SubmitScan(context.Background(), ScanParams{ScanType: acquisition.FullScan})
		require.NoError(err)
		require.Equal(acquisition.RejectBusy, res.Reason)
		require.False(b.CanSubmit())
		require.Zero(b.ReadyCount())
	})

	t.Run("Ready during a busy submit is kept", func(t *testing.T) {
		require := require.New(t)

		b, err := NewBridge(newContendedInstrument(true), WithBridgeLogger(logger.NewNop()))
		require.NoError(err)

		_, res, err := b.SubmitScan(context.Background(), ScanParams{ScanType: acquisition.FullScan})
		require.NoError(err)
		require.Equal(acquisition.RejectBusy, res.Reason)
		require.True(b.CanSubmit())
		require.Equal(uint64(1), b.ReadyCount())
	})
}

func ddaRecording() []spectrum.Spectrum {
	survey := []spectrum.Peak{{MZ: 300, Intensity: 1e3}, {MZ: 100, Intensity: 5e5}, {MZ: 200, Intensity: 3e5}}

	return []spectrum.Spectrum{
		ms1(1, 0.00, survey...),
		ms2(2, 0.01),
		ms2(3, 0.02),
		ms1(4, 0.03, survey...),
		ms2(5, 0.04),
	}
}

func TestTopNDynamicExclusion(t *testing.T) {
	require := require.New(t)

	sim, sched := newSim(t, ddaRecording())
	b, err := NewBridge(sim, WithBridgeLogger(logger.NewNop()))
	require.NoError(err)

	cfg := DefaultTopNConfig()
	cfg.N = 2
	cfg.MinMS1Intensity = 1e4
	cfg.RTTolerance = time.Hour
	ctrl, err := NewTopN(b, cfg)
	require.NoError(err)

	require.NoError(ctrl.Start(context.Background()))
	require.ErrorIs(ctrl.Start(context.Background()), ErrAlreadyRunning)
	sched.RunUntilIdle()

	select {
	case <-ctrl.Done():
	default:
		require.Fail("controller did not finish")
	}
	require.NoError(ctrl.Err())

	require.Equal(Summary{MS1Scans: 2, MSnScans: 2, Excluded: 2, Submitted: 5, Rejected: 1}, ctrl.Summary())
	require.Equal([]PrecursorInfo{
		{Precursor: Precursor{MZ: 100, Intensity: 5e5, MS1Scan: 1}, MSnScans: []int{2}},
		{Precursor: Precursor{MZ: 200, Intensity: 3e5, MS1Scan: 1}, MSnScans: []int{3}},
	}, ctrl.Precursors())
	require.Equal(1, sim.Remaining(acquisition.MSnScan))
}

// goroutineScheduler delivers every scan at once on its own goroutine at a fixed time.
type goroutineScheduler struct {
	now     time.Time
	pending atomic.Int64
	stopped atomic.Bool
}

func (s *goroutineScheduler) Schedule(_ time.Duration, fn func()) error {
	if s.stopped.Load() {
		return simulator.ErrSchedulerStopped
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Add(-1)
		fn()
	}()

	return nil
}

func (s *goroutineScheduler) Now() time.Time { return s.now }

func (s *goroutineScheduler) Pending() int { return int(s.pending.Load()) }

func (s *goroutineScheduler) Stop() { s.stopped.Store(true) }

// lateReplyInstrument returns from an accepted submit only after its scan was delivered to the
// subscribers registered before watch.
type lateReplyInstrument struct {
	acquisition.Instrument

	mu      sync.Mutex
	arrived map[int64]chan struct{}
}

func (l *lateReplyInstrument) gate(rn int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.arrived[rn]
	if !ok {
		ch = make(chan struct{})
		l.arrived[rn] = ch
	}

	return ch
}

func (l *lateReplyInstrument) watch() {
	l.Instrument.OnScanArrived(func(scan *acquisition.ResultScan) { close(l.gate(scan.RunningNumber)) })
}

func (l *lateReplyInstrument) SubmitCustomScan(ctx context.Context, req acquisition.CustomScanRequest) (acquisition.SubmitResult, error) {
	arrived := l.gate(req.RunningNumber)

	res, err := l.Instrument.SubmitCustomScan(ctx, req)
	if err != nil || !res.Accepted {
		return res, err
	}

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		return res, context.DeadlineExceeded
	}

	return res, nil
}

func TestTopNScanArrivesBeforeSubmitReturns(t *testing.T) {
	require := require.New(t)

	sim, err := simulator.New(context.Background(), ddaRecording(),
		simulator.WithScheduler(&goroutineScheduler{now: epoch}),
		simulator.WithLogger(logger.NewNop()),
	)
	require.NoError(err)
	defer sim.Close()

	inst := &lateReplyInstrument{Instrument: sim, arrived: make(map[int64]chan struct{})}
	b, err := NewBridge(inst, WithBridgeLogger(logger.NewNop()))
	require.NoError(err)
	inst.watch()

	cfg := DefaultTopNConfig()
	cfg.N = 2
	cfg.MinMS1Intensity = 1e4
	cfg.RTTolerance = time.Hour
	ctrl, err := NewTopN(b, cfg)
	require.NoError(err)

	require.NoError(ctrl.Start(context.Background()))
	select {
	case <-ctrl.Done():
	case <-time.After(5 * time.Second):
		require.FailNow("controller did not finish")
	}
	require.NoError(ctrl.Err())

	require.Equal(Summary{MS1Scans: 2, MSnScans: 2, Excluded: 2, Submitted: 5, Rejected: 1}, ctrl.Summary())
	require.Equal([]PrecursorInfo{
		{Precursor: Precursor{MZ: 100, Intensity: 5e5, MS1Scan: 1}, MSnScans: []int{2}},
		{Precursor: Precursor{MZ: 200, Intensity: 3e5, MS1Scan: 1}, MSnScans: []int{3}},
	}, ctrl.Precursors())
}

func TestTopNExpiredExclusion(t *testing.T) {
	require := require.New(t)

	sim, sched := newSim(t, ddaRecording())
	b, err := NewBridge(sim, WithBridgeLogger(logger.NewNop()))
	require.NoError(err)

	cfg := DefaultTopNConfig()
	cfg.N = 2
	cfg.MinMS1Intensity = 1e4
	cfg.RTTolerance = 0
	ctrl, err := NewTopN(b, cfg)
	require.NoError(err)

	require.NoError(ctrl.Start(context.Background()))
	sched.RunUntilIdle()

	<-ctrl.Done()
	require.Equal(Summary{MS1Scans: 2, MSnScans: 3, Excluded: 0, Submitted: 7, Rejected: 2}, ctrl.Summary())

	precursors := ctrl.Precursors()
	require.Len(precursors, 3)
	require.Equal(Precursor{MZ: 100, Intensity: 5e5, MS1Scan: 4}, precursors[2].Precursor)
	require.Equal([]int{5}, precursors[2].MSnScans)
}

func TestTopNRunCanceled(t *testing.T) {
	require := require.New(t)

	sim, _ := newSim(t, ddaRecording())
	b, err := NewBridge(sim, WithBridgeLogger(logger.NewNop()))
	require.NoError(err)

	ctrl, err := NewTopN(b, DefaultTopNConfig())
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(ctx) }()

	// the virtual scheduler is never advanced, so the first scan stays in flight
	require.Eventually(func() bool { return sim.State().IsBusy() }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		require.Fail("Run did not return")
	}
}

func TestTopNConfigValidation(t *testing.T) {
	sim, _ := newSim(t, nil)
	b, err := NewBridge(sim, WithBridgeLogger(logger.NewNop()))
	require.NoError(t, err)

	_, err = NewTopN(nil, DefaultTopNConfig())
	require.ErrorIs(t, err, ErrInstrumentNil)

	bad := []func(c *TopNConfig){
		func(c *TopNConfig) { c.N = 0 },
		func(c *TopNConfig) { c.IsolationWidth = -1 },
		func(c *TopNConfig) { c.CollisionEnergy = 300 },
		func(c *TopNConfig) { c.MZTolerancePPM = -1 },
		func(c *TopNConfig) { c.RTTolerance = -time.Second },
	}
	for i, mutate := range bad {
		cfg := DefaultTopNConfig()
		mutate(&cfg)
		_, err := NewTopN(b, cfg)
		require.Error(t, err, "case %d", i)
	}
}
