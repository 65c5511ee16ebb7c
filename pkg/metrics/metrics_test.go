package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveReport("READ", 100, true, true)
	m.ObserveAck(time.Second)
	m.TransactionStarted("READ")
	m.TransactionEnded("READ", EndDone)
	m.SetDirtyPaths(3)
	m.EventEmitted("INFO")
	m.SetEventsBuffered("INFO", 2)
	m.ObserveScan(time.Millisecond)
}

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveReport("SUBSCRIBE", 128, true, false)
	m.ObserveReport("SUBSCRIBE", 16, false, true)
	m.TransactionStarted("SUBSCRIBE")
	m.TransactionStarted("SUBSCRIBE")
	m.TransactionEnded("SUBSCRIBE", EndLiveness)
	m.SetDirtyPaths(5)
	m.EventEmitted("CRITICAL")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReportsSent.WithLabelValues("SUBSCRIBE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportChunks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Keepalives))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsActive.WithLabelValues("SUBSCRIBE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsEnded.WithLabelValues("SUBSCRIBE", EndLiveness)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.DirtyPaths))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsEmitted.WithLabelValues("CRITICAL")))
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
