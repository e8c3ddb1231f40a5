package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCustodyMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementFormsGenerated()
	m.IncrementSignatures("sender")
	m.IncrementSignatures("sender")
	m.IncrementSignatures("receiver")
	m.IncrementAlert("no_signatures")
	m.IncrementNotificationFailures()
	m.ObserveSweep(120 * time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.FormsGenerated), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.SignaturesRecorded.WithLabelValues("sender")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SignaturesRecorded.WithLabelValues("receiver")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SweepAlerts.WithLabelValues("no_signatures")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.NotificationFailures), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.SweepDuration))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementFormsGenerated()
		m.IncrementSignatures("witness")
		m.IncrementAlert("expired")
		m.IncrementNotificationFailures()
		m.ObserveSweep(time.Second)
	})
}
