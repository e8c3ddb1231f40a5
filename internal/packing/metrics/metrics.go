package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the packing orchestrator.
type Metrics struct {
	ManifestsCreated prometheus.Counter
	ItemsPacked      prometheus.Counter

	// Finish-packing calls by kit reconciliation outcome
	FinishPacking *prometheus.CounterVec

	// Orchestration latency by workflow
	WorkflowLatency *prometheus.HistogramVec
}

// New registers the packing metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ManifestsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_packing_manifests_created_total",
			Help: "Total manifests created with their kit and assets",
		}),
		ItemsPacked: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_packing_items_packed_total",
			Help: "Total manifest items marked packed, individually or by finish-packing",
		}),
		FinishPacking: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_packing_finish_total",
			Help: "Total finish-packing calls by kit reconciliation outcome",
		}, []string{"kit_outcome"}),
		WorkflowLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custody_packing_workflow_duration_seconds",
			Help:    "Duration of packing workflows including persistence",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"workflow"}), // workflow: "create_manifest", "finish_packing"
	}
}

func (m *Metrics) IncrementManifestsCreated() {
	if m != nil {
		m.ManifestsCreated.Inc()
	}
}

func (m *Metrics) AddItemsPacked(n int) {
	if m != nil && n > 0 {
		m.ItemsPacked.Add(float64(n))
	}
}

// IncrementFinishPacking records a finish-packing call by kit outcome.
func (m *Metrics) IncrementFinishPacking(outcome string) {
	if m != nil {
		m.FinishPacking.WithLabelValues(outcome).Inc()
	}
}

// ObserveWorkflow records the duration of a packing workflow.
func (m *Metrics) ObserveWorkflow(workflow string, d time.Duration) {
	if m != nil {
		m.WorkflowLatency.WithLabelValues(workflow).Observe(d.Seconds())
	}
}
