package cmd

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/go-msbridge/simulator"
)

const metricsNamespace = "msbridge"

// registerMetrics exposes the counters of sim, read at scrape time.
func registerMetrics(reg prometheus.Registerer, sim *simulator.Simulator) error {
	m := sim.Metrics()

	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submits_total",
			Help:      "Valid custom scan submissions.",
		}, func() float64 { return float64(m.SubmitCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "accepts_total",
			Help:      "Accepted custom scan submissions.",
		}, func() float64 { return float64(m.AcceptCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "rejects_total",
			Help:        "Rejected custom scan submissions.",
			ConstLabels: prometheus.Labels{"reason": "busy"},
		}, func() float64 { return float64(m.BusyRejectCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "rejects_total",
			Help:        "Rejected custom scan submissions.",
			ConstLabels: prometheus.Labels{"reason": "exhausted"},
		}, func() float64 { return float64(m.ExhaustedRejectCount.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Result scans delivered.",
		}, func() float64 { return float64(m.DeliveredCount.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "inflight_scans",
			Help:      "Accepted custom scans not yet delivered.",
		}, func() float64 { return float64(m.InflightGauge.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "busy",
			Help:      "Handshake state (0=ready, 1=busy).",
		}, func() float64 { return float64(sim.State()) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}
