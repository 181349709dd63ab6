// Package controller drives an acquisition.Instrument: Bridge tracks the custom scan handshake
// and assigns running numbers, TopN implements a data-dependent acquisition strategy on top of it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-msbridge/acquisition"
	"github.com/arloliu/go-msbridge/logger"
)

const (
	// DefaultRunningNumberBase is the first running number a Bridge assigns.
	DefaultRunningNumberBase int64 = 12345

	// DefaultMaxProcessingDelay is the processing delay attached to scans that do not set one.
	DefaultMaxProcessingDelay = 500 * time.Millisecond
)

// ScanParams are the user facing parameters of a custom scan.
type ScanParams struct {
	ScanType           acquisition.ScanType
	PrecursorMass      float64
	IsolationWidth     float64
	CollisionEnergy    float64
	Polarity           string
	FirstMass          float64
	LastMass           float64
	MaxProcessingDelay time.Duration

	// RunningNumber is a number reserved with NextRunningNumber. Zero assigns the next one.
	RunningNumber int64
}

// Bridge wraps an instrument with the bookkeeping a control program needs: it tracks whether
// the instrument can accept the next custom scan, numbers submitted scans and re-publishes the
// instrument's events to its own subscribers.
type Bridge struct {
	inst   acquisition.Instrument
	logger logger.Logger

	canSubmit     atomic.Bool
	closed        atomic.Bool
	runningNumber atomic.Int64
	readyEpoch    atomic.Uint64
	maxDelay      time.Duration

	scanBus  *acquisition.Bus[*acquisition.ResultScan]
	readyBus *acquisition.Bus[struct{}]
	instSubs []*acquisition.Subscription
}

// BridgeOption represents a functional option for configuring a Bridge.
type BridgeOption interface {
	apply(*Bridge) error
}

type bridgeOptFunc struct {
	name      string
	applyFunc func(*Bridge) error
}

func (o *bridgeOptFunc) apply(b *Bridge) error { return o.applyFunc(b) }

// WithBridgeLogger sets the logger of the bridge. The default logger is the global logger instance.
func WithBridgeLogger(l logger.Logger) BridgeOption {
	return &bridgeOptFunc{name: "WithBridgeLogger", applyFunc: func(b *Bridge) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		b.logger = l

		return nil
	}}
}

// WithRunningNumberBase sets the first running number assigned by the bridge.
//
// The default value is DefaultRunningNumberBase.
func WithRunningNumberBase(base int64) BridgeOption {
	return &bridgeOptFunc{name: "WithRunningNumberBase", applyFunc: func(b *Bridge) error {
		if base < 1 {
			return errors.New("running number base must be positive")
		}
		b.runningNumber.Store(base - 1)

		return nil
	}}
}

// WithMaxProcessingDelay sets the processing delay used for scans that do not set one.
//
// The default value is 500 milliseconds.
func WithMaxProcessingDelay(d time.Duration) BridgeOption {
	return &bridgeOptFunc{name: "WithMaxProcessingDelay", applyFunc: func(b *Bridge) error {
		if d < 0 {
			return errors.New("max processing delay is negative")
		}
		b.maxDelay = d

		return nil
	}}
}

// NewBridge creates a Bridge on inst and subscribes to its events.
// The bridge assumes the instrument is ready when created.
func NewBridge(inst acquisition.Instrument, opts ...BridgeOption) (*Bridge, error) {
	if inst == nil {
		return nil, ErrInstrumentNil
	}

	b := &Bridge{
		inst:     inst,
		logger:   logger.GetLogger(),
		maxDelay: DefaultMaxProcessingDelay,
	}
	b.runningNumber.Store(DefaultRunningNumberBase - 1)

	for _, opt := range opts {
		if err := opt.apply(b); err != nil {
			return nil, err
		}
	}

	b.scanBus = acquisition.NewBus[*acquisition.ResultScan]("bridge-scan", b.logger)
	b.readyBus = acquisition.NewBus[struct{}]("bridge-ready", b.logger)
	b.canSubmit.Store(inst.State().IsReady())

	b.instSubs = append(b.instSubs,
		inst.OnScanArrived(b.onScanArrived),
		inst.OnReadyForNext(b.onReadyForNext),
	)

	return b, nil
}

// Instrument returns the wrapped instrument.
func (b *Bridge) Instrument() acquisition.Instrument { return b.inst }

// CanSubmit reports whether the instrument signalled it can accept the next custom scan.
func (b *Bridge) CanSubmit() bool { return b.canSubmit.Load() && !b.closed.Load() }

// NextRunningNumber reserves the next running number.
//
// A caller that must know the number before the scan can arrive reserves it here and passes it
// in ScanParams.RunningNumber.
func (b *Bridge) NextRunningNumber() int64 { return b.runningNumber.Add(1) }

// ReadyCount returns the number of ready events received so far.
func (b *Bridge) ReadyCount() uint64 { return b.readyEpoch.Load() }

// SubmitScan numbers and submits a custom scan.
//
// It returns the running number of the scan together with the instrument's answer.
// ErrCannotSubmit is returned without contacting the instrument while a previous scan is in flight.
func (b *Bridge) SubmitScan(ctx context.Context, p ScanParams) (int64, acquisition.SubmitResult, error) {
	if b.closed.Load() {
		return 0, acquisition.SubmitResult{}, ErrBridgeClosed
	}
	if !b.canSubmit.Load() {
		return 0, acquisition.SubmitResult{}, ErrCannotSubmit
	}

	rn := p.RunningNumber
	if rn == 0 {
		rn = b.NextRunningNumber()
	}

	delay := p.MaxProcessingDelay
	if delay == 0 {
		delay = b.maxDelay
	}

	req := acquisition.CustomScanRequest{
		ScanType:           p.ScanType,
		PrecursorMass:      p.PrecursorMass,
		IsolationWidth:     p.IsolationWidth,
		CollisionEnergy:    p.CollisionEnergy,
		RunningNumber:      rn,
		MaxProcessingDelay: delay,
		Polarity:           p.Polarity,
		FirstMass:          p.FirstMass,
		LastMass:           p.LastMass,
	}

	b.logger.Info("placing a custom scan", "running_number", req.RunningNumber, "scan_type", req.ScanType, "max_processing_delay", delay)
	if b.logger.Level() <= logger.DebugLevel {
		b.logger.Debug("custom scan values", "running_number", req.RunningNumber, "values", formatValues(req.Values()))
	}

	// cleared before the submit so a fast ready event cannot be overwritten
	epoch := b.readyEpoch.Load()
	b.canSubmit.Store(false)
	res, err := b.inst.SubmitCustomScan(ctx, req)
	if err != nil {
		b.canSubmit.Store(true)
		b.logger.Error("failed to place a custom scan", "running_number", req.RunningNumber, "error", err)

		return req.RunningNumber, res, fmt.Errorf("submit custom scan %d: %w", req.RunningNumber, err)
	}

	if !res.Accepted {
		// a busy instrument keeps canSubmit cleared unless its ready event already arrived
		if res.Reason != acquisition.RejectBusy || b.readyEpoch.Load() != epoch {
			b.canSubmit.Store(true)
		}
		b.logger.Info("custom scan rejected", "running_number", req.RunningNumber, "reason", res.Reason)

		return req.RunningNumber, res, nil
	}

	b.logger.Info("placed a custom scan", "running_number", req.RunningNumber, "scan_type", req.ScanType)

	return req.RunningNumber, res, nil
}

// OnScan registers a handler invoked for every result scan.
func (b *Bridge) OnScan(handler acquisition.ScanArrivedHandler) *acquisition.Subscription {
	return b.scanBus.Subscribe(handler)
}

// OnReady registers a handler invoked each time the instrument can accept the next scan.
// CanSubmit is already true when the handler runs.
func (b *Bridge) OnReady(handler acquisition.ReadyHandler) *acquisition.Subscription {
	return b.readyBus.Subscribe(func(struct{}) { handler() })
}

// DumpPossibleParameters logs the custom scan parameters the instrument understands.
func (b *Bridge) DumpPossibleParameters() {
	params := b.inst.PossibleParameters()
	if len(params) == 0 {
		b.logger.Info("no possible custom scan parameters known")
		return
	}

	for _, p := range params {
		if p.Selection == "" {
			b.logger.Info("scan control parameter", "name", p.Name, "help", p.Help)
			continue
		}
		b.logger.Info("scan control parameter", "name", p.Name, "accepts", p.Selection, "default", p.DefaultValue, "help", p.Help)
	}
}

// Close unsubscribes from the instrument. It does not close the instrument.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, sub := range b.instSubs {
		sub.Unsubscribe()
	}

	return nil
}

func (b *Bridge) onScanArrived(scan *acquisition.ResultScan) {
	b.logger.Info("received MS scan",
		"scan", scan.ScanNumber,
		"ms_level", scan.MSLevel,
		"running_number", scan.RunningNumber,
		"centroid_count", scan.CentroidCount(),
	)
	if b.logger.Level() <= logger.DebugLevel {
		b.logger.Debug("scan header", "scan", scan.ScanNumber, "header", formatValues(scan.Header))
	}

	b.scanBus.Publish(scan)
}

func (b *Bridge) onReadyForNext() {
	b.readyEpoch.Add(1)
	b.canSubmit.Store(true)
	b.logger.Debug("instrument can accept next custom scan")
	b.readyBus.Publish(struct{}{})
}

func formatValues(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(values[k])
	}

	return sb.String()
}
