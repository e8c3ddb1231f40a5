package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementManifestsCreated()
	m.AddItemsPacked(3)
	m.AddItemsPacked(0)
	m.IncrementFinishPacking("packed")
	m.IncrementFinishPacking("packed")
	m.IncrementFinishPacking("not_found")
	m.ObserveWorkflow("finish_packing", 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ManifestsCreated))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ItemsPacked))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FinishPacking.WithLabelValues("packed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FinishPacking.WithLabelValues("not_found")))

	count, err := testutil.GatherAndCount(reg, "custody_packing_workflow_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementManifestsCreated()
		m.AddItemsPacked(2)
		m.IncrementFinishPacking("failed")
		m.ObserveWorkflow("create_manifest", time.Second)
	})
}
