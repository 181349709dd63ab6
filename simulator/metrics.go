package simulator

import (
	"sync/atomic"
)

// Metrics contains atomic counters of a simulator.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// SubmitCount indicates the number of valid custom scan submissions.
	SubmitCount atomic.Uint64
	// AcceptCount indicates the number of accepted submissions.
	AcceptCount atomic.Uint64
	// BusyRejectCount indicates the number of submissions rejected while a scan was in flight.
	BusyRejectCount atomic.Uint64
	// ExhaustedRejectCount indicates the number of submissions rejected for lack of spectra.
	ExhaustedRejectCount atomic.Uint64

	// DeliveredCount indicates the number of result scans published.
	DeliveredCount atomic.Uint64
	// InflightGauge indicates the number of accepted scans not yet delivered, zero or one.
	InflightGauge atomic.Int64
}

func (m *Metrics) incSubmitCount() {
	m.SubmitCount.Add(1)
}

func (m *Metrics) incAcceptCount() {
	m.AcceptCount.Add(1)
	m.InflightGauge.Add(1)
}

func (m *Metrics) incBusyRejectCount() {
	m.BusyRejectCount.Add(1)
}

func (m *Metrics) incExhaustedRejectCount() {
	m.ExhaustedRejectCount.Add(1)
}

func (m *Metrics) incDeliveredCount() {
	m.DeliveredCount.Add(1)
	m.InflightGauge.Add(-1)
}

func (m *Metrics) resetInflightGauge() {
	m.InflightGauge.Store(0)
}
