// Package metrics holds the Prometheus collectors shared across the
// pipeline: queue depth at each stage boundary, detection rate, copy
// latency histograms, and exit-manager counters.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector this core registers. Callers
// construct one instance per process and pass it by reference to the
// components that report through it.
type Metrics struct {
	QueueDepth *prometheus.GaugeVec

	EntriesDecoded   prometheus.Counter
	TransactionsSeen prometheus.Counter
	TradesDetected   *prometheus.CounterVec

	CopyLatency  prometheus.Histogram
	E2ELatency   prometheus.Histogram
	CopyOutcomes *prometheus.CounterVec

	ExitTriggered *prometheus.CounterVec
	ExitFailed    *prometheus.CounterVec

	OpenPositions     prometheus.Gauge
	TotalExposureUsdc prometheus.Gauge
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "copytrader",
			Name:      "queue_depth",
			Help:      "Number of items buffered at a pipeline stage boundary.",
		}, []string{"stage"}),
		EntriesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "copytrader",
			Name:      "entries_decoded_total",
			Help:      "Shred-stream entries successfully decoded.",
		}),
		TransactionsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "copytrader",
			Name:      "transactions_seen_total",
			Help:      "Transactions decoded and passed to classification.",
		}),
		TradesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copytrader",
			Name:      "trades_detected_total",
			Help:      "Normalized trades emitted by the detector, by aggregator and direction.",
		}, []string{"aggregator", "direction"}),
		CopyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "copytrader",
			Name:      "copy_latency_ms",
			Help:      "Time from orchestrator receipt to successful submission.",
			Buckets:   []float64{50, 100, 200, 300, 500, 750, 1000, 2000, 5000},
		}),
		E2ELatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "copytrader",
			Name:      "e2e_latency_ms",
			Help:      "Time from original trade detection to our copy's successful submission.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000},
		}),
		CopyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copytrader",
			Name:      "copy_outcomes_total",
			Help:      "Terminal copy-orchestrator outcomes, by state and reason.",
		}, []string{"state", "reason"}),
		ExitTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copytrader",
			Name:      "exit_triggered_total",
			Help:      "Exit-manager rule triggers, by rule.",
		}, []string{"rule"}),
		ExitFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copytrader",
			Name:      "exit_failed_total",
			Help:      "Exit-manager triggers whose sell submission failed, by rule.",
		}, []string{"rule"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "copytrader",
			Name:      "open_positions",
			Help:      "Current number of open positions.",
		}),
		TotalExposureUsdc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "copytrader",
			Name:      "total_exposure_usdc",
			Help:      "Current total position cost basis in USDC.",
		}),
	}

	reg.MustRegister(
		m.QueueDepth,
		m.EntriesDecoded,
		m.TransactionsSeen,
		m.TradesDetected,
		m.CopyLatency,
		m.E2ELatency,
		m.CopyOutcomes,
		m.ExitTriggered,
		m.ExitFailed,
		m.OpenPositions,
		m.TotalExposureUsdc,
	)
	return m
}

// ControlPlaneMetrics implements internal/controlplane.MetricsSource,
// reporting this process's own ingestion/copy counters to an external
// control plane's periodic heartbeat.
func (m *Metrics) ControlPlaneMetrics() map[string]float64 {
	return map[string]float64{
		"entries_decoded":     readCounter(m.EntriesDecoded),
		"transactions_seen":   readCounter(m.TransactionsSeen),
		"open_positions":      readGauge(m.OpenPositions),
		"total_exposure_usdc": readGauge(m.TotalExposureUsdc),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}

func readGauge(g prometheus.Gauge) float64 {
	var out dto.Metric
	if err := g.Write(&out); err != nil {
		return 0
	}
	return out.GetGauge().GetValue()
}
