package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for chain-of-custody forms and the
// notification sweep.
type Metrics struct {
	FormsGenerated       prometheus.Counter
	SignaturesRecorded   *prometheus.CounterVec
	SweepAlerts          *prometheus.CounterVec
	NotificationFailures prometheus.Counter
	SweepDuration        prometheus.Histogram
}

// New registers the custody metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		FormsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_coc_forms_generated_total",
			Help: "Total chain-of-custody forms generated",
		}),
		SignaturesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_coc_signatures_recorded_total",
			Help: "Total signatures recorded by signature type",
		}, []string{"signature_type"}),
		SweepAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_coc_sweep_alerts_total",
			Help: "Total overdue-form alerts raised by the sweep, by class",
		}, []string{"class"}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_coc_notification_failures_total",
			Help: "Total alert notifications that could not be delivered",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "custody_coc_sweep_duration_seconds",
			Help:    "Duration of one notification sweep including delivery",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncrementFormsGenerated() {
	if m != nil {
		m.FormsGenerated.Inc()
	}
}

func (m *Metrics) IncrementSignatures(signatureType string) {
	if m != nil {
		m.SignaturesRecorded.WithLabelValues(signatureType).Inc()
	}
}

func (m *Metrics) IncrementAlert(class string) {
	if m != nil {
		m.SweepAlerts.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) IncrementNotificationFailures() {
	if m != nil {
		m.NotificationFailures.Inc()
	}
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.SweepDuration.Observe(d.Seconds())
	}
}
