package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-msbridge/acquisition"
	"github.com/arloliu/go-msbridge/logger"
	"github.com/arloliu/go-msbridge/spectrum"
)

// Simulator replays a recorded acquisition as an acquisition.Instrument.
type Simulator struct {
	cfg       *Config
	logger    logger.Logger
	scheduler Scheduler
	hs        *handshake
	metrics   Metrics

	startTime time.Time
	durations DurationTable

	scanBus  *acquisition.Bus[*acquisition.ResultScan]
	readyBus *acquisition.Bus[struct{}]

	// mu guards the queues, the handshake transitions, lastScan and closed.
	mu       sync.Mutex
	ms1      *ScanQueue
	msn      *ScanQueue
	lastScan *acquisition.ResultScan
	closed   bool
}

var _ acquisition.Instrument = (*Simulator)(nil)

// NewFromSource loads the recording id from src and creates a Simulator replaying it.
// Load failures are returned wrapped in spectrum.ErrSourceLoad.
func NewFromSource(ctx context.Context, src spectrum.Source, id string, opts ...Option) (*Simulator, error) {
	spectra, err := src.Load(ctx, id)
	if err != nil {
		return nil, wrapSourceErr(id, err)
	}

	return New(ctx, spectra, opts...)
}

// New creates a Simulator replaying spectra, which must be in acquisition order.
//
// The simulator starts in ReadyState. Its clock starts when New returns.
func New(ctx context.Context, spectra []spectrum.Spectrum, opts ...Option) (*Simulator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := spectrum.Validate(spectra); err != nil {
		return nil, err
	}

	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	ms1, msn := Partition(spectra)

	sched := cfg.scheduler
	if sched == nil {
		sched = NewRealtimeScheduler(cfg.clk, cfg.logger)
	}

	sim := &Simulator{
		cfg:       cfg,
		logger:    cfg.logger,
		scheduler: sched,
		hs:        newHandshake(cfg.logger),
		startTime: sched.Now(),
		durations: buildTimings(cfg.timingStream, spectra, []*ScanQueue{ms1, msn}, cfg.terminalDuration),
		scanBus:   acquisition.NewBus[*acquisition.ResultScan]("scan-arrived", cfg.logger),
		readyBus:  acquisition.NewBus[struct{}]("ready-for-next", cfg.logger),
		ms1:       ms1,
		msn:       msn,
	}

	sim.logger.Info("simulator created",
		"ms1_count", ms1.Len(),
		"msn_count", msn.Len(),
		"timing", cfg.timingStream,
		"terminal_duration", cfg.terminalDuration,
	)

	return sim, nil
}

// SubmitCustomScan implements acquisition.Instrument.
//
// An invalid request returns an error wrapping acquisition.ErrInvalidRequest. A submission while
// a scan is in flight is rejected with RejectBusy; a submission for a scan type whose queue is
// empty is rejected with RejectExhausted and leaves the simulator in ReadyState.
func (s *Simulator) SubmitCustomScan(ctx context.Context, req acquisition.CustomScanRequest) (acquisition.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return acquisition.SubmitResult{}, err
	}

	if err := req.Validate(); err != nil {
		return acquisition.SubmitResult{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return acquisition.SubmitResult{}, ErrClosed
	}

	s.metrics.incSubmitCount()

	if s.hs.State().IsBusy() {
		s.mu.Unlock()
		s.metrics.incBusyRejectCount()
		s.logger.Debug("custom scan rejected", "reason", acquisition.RejectBusy, "running_number", req.RunningNumber)

		return acquisition.Rejected(acquisition.RejectBusy), nil
	}

	q := s.queueFor(req.ScanType)
	next, ok := q.Peek()
	if !ok {
		s.mu.Unlock()
		s.metrics.incExhaustedRejectCount()
		s.logger.Debug("custom scan rejected", "reason", acquisition.RejectExhausted,
			"scan_type", req.ScanType, "running_number", req.RunningNumber)

		return acquisition.Rejected(acquisition.RejectExhausted), nil
	}

	if err := s.hs.toBusy(); err != nil {
		s.mu.Unlock()
		s.logger.Error("unexpected handshake state on submit", "state", s.hs.State(), "error", err)

		return acquisition.SubmitResult{}, fmt.Errorf("accept custom scan %d: %w", req.RunningNumber, err)
	}

	delay := s.serviceTime(next, &req)
	runningNumber := req.RunningNumber
	if err := s.scheduler.Schedule(delay, func() { s.complete(next, runningNumber) }); err != nil {
		if rerr := s.hs.toReady(); rerr != nil {
			s.logger.Error("unexpected handshake state on failed schedule", "state", s.hs.State(), "error", rerr)
		}
		s.mu.Unlock()

		return acquisition.SubmitResult{}, fmt.Errorf("schedule delivery of scan %d: %w", next.ScanNumber, err)
	}

	q.Dequeue()
	s.hs.notify(acquisition.ReadyState, acquisition.BusyState)
	s.metrics.incAcceptCount()
	s.mu.Unlock()

	s.logger.Debug("custom scan accepted",
		"scan_type", req.ScanType,
		"running_number", runningNumber,
		"scan", next.ScanNumber,
		"delay", delay,
	)

	return acquisition.Accepted(), nil
}

// complete publishes the result scan of an accepted request, then returns to ReadyState.
// The scan-arrived event is published while the simulator is still busy.
func (s *Simulator) complete(spec spectrum.Spectrum, runningNumber int64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	scan := acquisition.NewResultScan(spec, runningNumber, s.scheduler.Now().Sub(s.startTime))
	s.lastScan = scan
	s.mu.Unlock()

	s.metrics.incDeliveredCount()
	s.logger.Debug("scan arrived", "scan", scan.ScanNumber, "ms_level", scan.MSLevel, "running_number", runningNumber)
	s.scanBus.Publish(scan)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if err := s.hs.toReady(); err != nil {
		s.mu.Unlock()
		s.logger.Error("unexpected handshake state on delivery", "state", s.hs.State(), "error", err)

		return
	}
	s.hs.notify(acquisition.BusyState, acquisition.ReadyState)
	s.mu.Unlock()

	s.readyBus.Publish(struct{}{})
}

func (s *Simulator) serviceTime(spec spectrum.Spectrum, req *acquisition.CustomScanRequest) time.Duration {
	d := s.durations.For(spec.ScanNumber, s.cfg.terminalDuration)
	if s.cfg.processingDelay {
		d += req.MaxProcessingDelay / 2
	}

	return d
}

func (s *Simulator) queueFor(scanType acquisition.ScanType) *ScanQueue {
	if scanType == acquisition.FullScan {
		return s.ms1
	}

	return s.msn
}

// OnScanArrived implements acquisition.Instrument.
func (s *Simulator) OnScanArrived(handler acquisition.ScanArrivedHandler) *acquisition.Subscription {
	return s.scanBus.Subscribe(handler)
}

// OnReadyForNext implements acquisition.Instrument.
func (s *Simulator) OnReadyForNext(handler acquisition.ReadyHandler) *acquisition.Subscription {
	return s.readyBus.Subscribe(func(struct{}) { handler() })
}

// OnStateChange registers handlers invoked after every handshake transition.
//
// Note: handlers run while the simulator holds its lock and must not call back into the
// simulator. Use OnReadyForNext to submit the next request.
func (s *Simulator) OnStateChange(handlers ...StateChangeHandler) {
	s.hs.addHandler(handlers...)
}

// LastScan implements acquisition.Instrument.
func (s *Simulator) LastScan() (*acquisition.ResultScan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastScan, s.lastScan != nil
}

// State implements acquisition.Instrument.
func (s *Simulator) State() acquisition.HandshakeState {
	return s.hs.State()
}

// PossibleParameters implements acquisition.Instrument.
func (s *Simulator) PossibleParameters() []acquisition.ParameterDescription {
	return acquisition.DefaultParameters()
}

// Remaining returns the number of spectra of scanType that have not been delivered or accepted yet.
func (s *Simulator) Remaining(scanType acquisition.ScanType) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queueFor(scanType).Len()
}

// Durations returns the service time table.
func (s *Simulator) Durations() DurationTable {
	out := make(DurationTable, len(s.durations))
	for k, v := range s.durations {
		out[k] = v
	}

	return out
}

// Metrics returns the live counters of the simulator.
func (s *Simulator) Metrics() *Metrics {
	return &s.metrics
}

// StartTime returns the scheduler time at which the simulator was created.
func (s *Simulator) StartTime() time.Time {
	return s.startTime
}

// Close stops the scheduler and discards the pending delivery, if any.
// Subsequent submissions return ErrClosed. Close is idempotent.
func (s *Simulator) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.scheduler.Stop()
	s.metrics.resetInflightGauge()
	s.logger.Info("simulator closed",
		"delivered", s.metrics.DeliveredCount.Load(),
		"ms1_remaining", s.Remaining(acquisition.FullScan),
		"msn_remaining", s.Remaining(acquisition.MSnScan),
	)

	return nil
}

func wrapSourceErr(id string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, spectrum.ErrSourceLoad) {
		return fmt.Errorf("load recording %q: %w", id, err)
	}

	return fmt.Errorf("load recording %q: %w: %w", id, spectrum.ErrSourceLoad, err)
}
