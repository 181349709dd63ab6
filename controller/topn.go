package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arloliu/go-msbridge/acquisition"
	"github.com/arloliu/go-msbridge/logger"
)

// TopNConfig configures a TopN controller.
type TopNConfig struct {
	// N is the maximum number of precursors fragmented after each MS1 scan.
	N int
	// IsolationWidth is the isolation window in Dalton.
	IsolationWidth float64
	// CollisionEnergy is the normalized collision energy of fragmentation scans.
	CollisionEnergy float64
	// MZTolerancePPM is the m/z width of a dynamic exclusion window, in ppm.
	MZTolerancePPM float64
	// RTTolerance is how long a fragmented precursor stays excluded.
	RTTolerance time.Duration
	// MinMS1Intensity is the lowest MS1 intensity considered for fragmentation.
	MinMS1Intensity float64
	// Polarity is passed through to every scan.
	Polarity string
}

// DefaultTopNConfig returns a configuration suitable for a typical DDA run.
func DefaultTopNConfig() TopNConfig {
	return TopNConfig{
		N:               10,
		IsolationWidth:  1,
		CollisionEnergy: 25,
		MZTolerancePPM:  10,
		RTTolerance:     15 * time.Second,
		MinMS1Intensity: 1.75e5,
		Polarity:        acquisition.DefaultPolarity,
	}
}

func (c TopNConfig) validate() error {
	switch {
	case c.N < 1:
		return errors.New("topN: N should be at least 1")
	case c.IsolationWidth < 0:
		return errors.New("topN: isolation width is negative")
	case c.CollisionEnergy < 0 || c.CollisionEnergy > acquisition.MaxCollisionEnergy:
		return errors.New("topN: collision energy out of range")
	case c.MZTolerancePPM < 0:
		return errors.New("topN: m/z tolerance is negative")
	case c.RTTolerance < 0:
		return errors.New("topN: rt tolerance is negative")
	}

	return nil
}

// Precursor is an MS1 peak chosen for fragmentation.
type Precursor struct {
	MZ        float64
	Intensity float64
	// MS1Scan is the scan number of the survey scan the peak was picked from.
	MS1Scan int
}

// PrecursorInfo links a precursor to the fragmentation scans acquired for it.
type PrecursorInfo struct {
	Precursor Precursor
	MSnScans  []int
}

// Summary counts what a TopN run did.
type Summary struct {
	MS1Scans  int
	MSnScans  int
	Excluded  int
	Submitted int
	Rejected  int
}

type exclusion struct {
	fromMZ, toMZ float64
	fromT, toT   time.Duration
}

func (x exclusion) contains(mz float64, t time.Duration) bool {
	return x.fromMZ <= mz && mz <= x.toMZ && x.fromT <= t && t <= x.toT
}

// TopN is a data-dependent acquisition controller. After every MS1 scan it fragments the N most
// intense peaks that are above MinMS1Intensity and not covered by a dynamic exclusion window,
// then acquires the next MS1 scan. The run ends when the instrument has no more MS1 data.
type TopN struct {
	bridge *Bridge
	cfg    TopNConfig
	logger logger.Logger

	mu         sync.Mutex
	started    bool
	finished   bool
	err        error
	queue      []Precursor
	inflight   map[int64]Precursor
	exclusions []exclusion
	precursors []*PrecursorInfo
	summary    Summary
	subs       []*acquisition.Subscription

	done chan struct{}
}

// NewTopN creates a TopN controller driving bridge.
func NewTopN(bridge *Bridge, cfg TopNConfig) (*TopN, error) {
	if bridge == nil {
		return nil, ErrInstrumentNil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &TopN{
		bridge:   bridge,
		cfg:      cfg,
		logger:   bridge.logger.With("controller", "topN"),
		inflight: make(map[int64]Precursor),
		done:     make(chan struct{}),
	}, nil
}

// Start subscribes to the bridge and submits the first MS1 scan. The run continues from the
// instrument's event handlers; use Done or Run to wait for its end.
func (c *TopN) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.started = true
	c.subs = append(c.subs,
		c.bridge.OnScan(c.onScan),
		c.bridge.OnReady(func() { c.next(ctx) }),
	)
	c.mu.Unlock()

	c.logger.Info("acquisition open", "n", c.cfg.N, "min_ms1_intensity", c.cfg.MinMS1Intensity)
	c.next(ctx)

	return nil
}

// Run starts the acquisition and blocks until the run ends or ctx is done.
func (c *TopN) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		c.finish(ctx.Err())
	}

	summary := c.Summary()
	c.logger.Info("acquisition closing",
		"ms1_scans", summary.MS1Scans,
		"msn_scans", summary.MSnScans,
		"excluded", summary.Excluded,
	)

	return c.Err()
}

// Err returns the error that ended the run, nil while running or after a regular end.
func (c *TopN) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Done returns a channel closed when the run ended.
func (c *TopN) Done() <-chan struct{} {
	return c.done
}

// Summary returns the counters of the run so far.
func (c *TopN) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.summary
}

// Precursors returns every fragmented precursor with the scans acquired for it, in fragmentation order.
func (c *TopN) Precursors() []PrecursorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PrecursorInfo, 0, len(c.precursors))
	for _, p := range c.precursors {
		out = append(out, PrecursorInfo{Precursor: p.Precursor, MSnScans: append([]int(nil), p.MSnScans...)})
	}

	return out
}

func (c *TopN) onScan(scan *acquisition.ResultScan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return
	}

	now := scan.Elapsed
	if scan.MSLevel == 1 {
		c.summary.MS1Scans++
		c.queue = c.pickPrecursors(scan, now)
		return
	}

	c.summary.MSnScans++
	p, ok := c.inflight[scan.RunningNumber]
	if !ok {
		return
	}
	delete(c.inflight, scan.RunningNumber)

	c.recordPrecursor(p, scan.ScanNumber)

	tol := p.MZ * c.cfg.MZTolerancePPM / 1e6
	x := exclusion{fromMZ: p.MZ - tol, toMZ: p.MZ + tol, fromT: now, toT: now + c.cfg.RTTolerance}
	c.exclusions = append(c.exclusions, x)
	c.logger.Debug("created dynamic exclusion window", "from_mz", x.fromMZ, "to_mz", x.toMZ, "from", x.fromT, "to", x.toT)

	kept := c.exclusions[:0]
	for _, e := range c.exclusions {
		if e.toT > now {
			kept = append(kept, e)
		}
	}
	c.exclusions = kept
}

// pickPrecursors returns up to N precursors from an MS1 scan in decreasing intensity.
func (c *TopN) pickPrecursors(scan *acquisition.ResultScan, now time.Duration) []Precursor {
	peaks := append(scan.Centroids[:0:0], scan.Centroids...)
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].Intensity > peaks[j].Intensity })

	picked := make([]Precursor, 0, c.cfg.N)
	for _, p := range peaks {
		if len(picked) >= c.cfg.N {
			break
		}
		if p.Intensity < c.cfg.MinMS1Intensity {
			c.logger.Debug("minimum intensity threshold reached", "scan", scan.ScanNumber, "intensity", p.Intensity, "picked", len(picked))
			break
		}
		if c.isExcluded(p.MZ, now) {
			c.summary.Excluded++
			continue
		}
		picked = append(picked, Precursor{MZ: p.MZ, Intensity: p.Intensity, MS1Scan: scan.ScanNumber})
	}

	return picked
}

func (c *TopN) isExcluded(mz float64, t time.Duration) bool {
	for _, x := range c.exclusions {
		if x.contains(mz, t) {
			return true
		}
	}

	return false
}

func (c *TopN) recordPrecursor(p Precursor, msnScan int) {
	for _, info := range c.precursors {
		if info.Precursor == p {
			info.MSnScans = append(info.MSnScans, msnScan)
			return
		}
	}
	c.precursors = append(c.precursors, &PrecursorInfo{Precursor: p, MSnScans: []int{msnScan}})
}

// next submits the next scan: a pending fragmentation if any, otherwise an MS1 scan.
//
// The running number of a fragmentation is registered before the submit, so its scan is matched
// even when it arrives before SubmitScan returns.
func (c *TopN) next(ctx context.Context) {
	for {
		c.mu.Lock()
		if c.finished {
			c.mu.Unlock()
			return
		}

		var (
			params    ScanParams
			precursor Precursor
			isMSn     bool
		)
		epoch := c.bridge.ReadyCount()
		rn := c.bridge.NextRunningNumber()
		if len(c.queue) > 0 {
			precursor = c.queue[0]
			c.queue = c.queue[1:]
			isMSn = true
			c.inflight[rn] = precursor
			params = ScanParams{
				ScanType:        acquisition.MSnScan,
				PrecursorMass:   precursor.MZ,
				IsolationWidth:  c.cfg.IsolationWidth,
				CollisionEnergy: c.cfg.CollisionEnergy,
				Polarity:        c.cfg.Polarity,
				RunningNumber:   rn,
			}
		} else {
			params = ScanParams{ScanType: acquisition.FullScan, Polarity: c.cfg.Polarity, RunningNumber: rn}
		}
		c.summary.Submitted++
		c.mu.Unlock()

		_, res, err := c.bridge.SubmitScan(ctx, params)
		if err == nil && res.Accepted {
			return
		}

		waiting := errors.Is(err, ErrCannotSubmit) || (err == nil && res.Reason == acquisition.RejectBusy)

		c.mu.Lock()
		delete(c.inflight, rn)
		if waiting && isMSn {
			c.queue = append([]Precursor{precursor}, c.queue...)
		}
		if errors.Is(err, ErrCannotSubmit) {
			c.summary.Submitted--
		} else if err == nil {
			c.summary.Rejected++
		}
		c.mu.Unlock()

		switch {
		case errors.Is(err, ErrCannotSubmit):
			// another submit is in progress and drives the run on its outcome
			c.logger.Debug("submit in progress, waiting for next ready event", "running_number", rn)
			return
		case err != nil:
			c.finish(fmt.Errorf("topN: %w", err))
			return
		case res.Reason == acquisition.RejectBusy:
			if c.bridge.ReadyCount() != epoch {
				continue
			}
			// another client owns the in-flight scan, wait for its ready event
			c.logger.Warn("instrument busy, waiting for next ready event", "running_number", rn)
			return
		case isMSn:
			c.logger.Info("no more fragmentation data, dropping pending precursors", "running_number", rn)
			c.mu.Lock()
			c.queue = nil
			c.mu.Unlock()
		default:
			c.logger.Info("no more survey data, stopping", "running_number", rn)
			c.finish(nil)
			return
		}
	}
}

func (c *TopN) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return
	}
	c.finished = true
	c.err = err

	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	close(c.done)
}
