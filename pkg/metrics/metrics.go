// Package metrics provides Prometheus instrumentation for the reporting
// engine. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a transaction ends.
const (
	EndDone      = "done"
	EndCancelled = "cancelled"
	EndFailed    = "failed"
	EndLiveness  = "liveness"
	EndClosed    = "closed"
)

// Metrics provides observability for the reporting engine.
type Metrics struct {
	// Reports handed to the transport by transaction kind
	ReportsSent *prometheus.CounterVec

	// Encoded report sizes
	ReportBytes prometheus.Histogram

	// Reports that continue in a following chunk
	ReportChunks prometheus.Counter

	// Reports sent only because the max interval elapsed
	Keepalives prometheus.Counter

	// Time from send to acknowledgement
	AckLatency prometheus.Histogram

	// Active transactions by kind
	TransactionsActive *prometheus.GaugeVec

	// Ended transactions by kind and reason
	TransactionsEnded *prometheus.CounterVec

	// Distinct dirty paths awaiting report
	DirtyPaths prometheus.Gauge

	// Events accepted by the log by priority
	EventsEmitted *prometheus.CounterVec

	// Events buffered by priority
	EventsBuffered *prometheus.GaugeVec

	// Duration of one engine scan
	ScanDuration prometheus.Histogram
}

// New creates the engine metrics and registers them with reg. A nil reg
// uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ReportsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mash_reporting_reports_sent_total",
			Help: "Total reports handed to the transport by transaction kind",
		}, []string{"kind"}), // kind: "READ", "SUBSCRIBE"

		ReportBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mash_reporting_report_bytes",
			Help:    "Size of encoded reports in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8),
		}),

		ReportChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mash_reporting_report_chunks_total",
			Help: "Total reports that had more chunks to follow",
		}),

		Keepalives: factory.NewCounter(prometheus.CounterOpts{
			Name: "mash_reporting_keepalives_total",
			Help: "Total reports sent because a subscription max interval elapsed",
		}),

		AckLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mash_reporting_ack_duration_seconds",
			Help:    "Duration from handing a report to the transport until it was acknowledged",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		TransactionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mash_reporting_transactions_active",
			Help: "Active read and subscribe transactions",
		}, []string{"kind"}),

		TransactionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mash_reporting_transactions_ended_total",
			Help: "Total ended transactions by kind and reason",
		}, []string{"kind", "reason"}),

		DirtyPaths: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mash_reporting_dirty_paths",
			Help: "Distinct dirty attribute paths awaiting report",
		}),

		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mash_reporting_events_emitted_total",
			Help: "Total events accepted by the event log by priority",
		}, []string{"priority"}),

		EventsBuffered: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mash_reporting_events_buffered",
			Help: "Events currently buffered by priority",
		}, []string{"priority"}),

		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mash_reporting_scan_duration_seconds",
			Help:    "Duration of one engine scan over all transactions",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

// ObserveReport records a report handed to the transport.
func (m *Metrics) ObserveReport(kind string, size int, moreChunks, keepalive bool) {
	if m == nil {
		return
	}
	m.ReportsSent.WithLabelValues(kind).Inc()
	m.ReportBytes.Observe(float64(size))
	if moreChunks {
		m.ReportChunks.Inc()
	}
	if keepalive {
		m.Keepalives.Inc()
	}
}

// ObserveAck records the acknowledgement latency of a report.
func (m *Metrics) ObserveAck(d time.Duration) {
	if m != nil {
		m.AckLatency.Observe(d.Seconds())
	}
}

// TransactionStarted records a new transaction.
func (m *Metrics) TransactionStarted(kind string) {
	if m != nil {
		m.TransactionsActive.WithLabelValues(kind).Inc()
	}
}

// TransactionEnded records the end of a transaction.
func (m *Metrics) TransactionEnded(kind, reason string) {
	if m != nil {
		m.TransactionsActive.WithLabelValues(kind).Dec()
		m.TransactionsEnded.WithLabelValues(kind, reason).Inc()
	}
}

// SetDirtyPaths records the dirty set size.
func (m *Metrics) SetDirtyPaths(n int) {
	if m != nil {
		m.DirtyPaths.Set(float64(n))
	}
}

// EventEmitted records an event accepted by the log.
func (m *Metrics) EventEmitted(priority string) {
	if m != nil {
		m.EventsEmitted.WithLabelValues(priority).Inc()
	}
}

// SetEventsBuffered records the buffered event count of a priority.
func (m *Metrics) SetEventsBuffered(priority string, n int) {
	if m != nil {
		m.EventsBuffered.WithLabelValues(priority).Set(float64(n))
	}
}

// ObserveScan records the duration of one scan.
func (m *Metrics) ObserveScan(d time.Duration) {
	if m != nil {
		m.ScanDuration.Observe(d.Seconds())
	}
}
