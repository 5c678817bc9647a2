package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for attestation anchoring and credits.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Attestations persisted as pending
	AttestationsRecorded prometheus.Counter

	// Reconciled outcomes by ledger_status
	AnchorOutcomes *prometheus.CounterVec

	// Time from dequeue to reconciliation
	AnchorLatency prometheus.Histogram

	// Jobs waiting for a worker
	AnchorQueueDepth prometheus.Gauge

	// Applied credit transitions by target status
	CreditTransitions *prometheus.CounterVec

	// 1 when the last ledger health probe succeeded
	LedgerUp prometheus.Gauge

	// Pending attestations older than the confirmation timeout
	StalePending prometheus.Gauge
}

// New registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AttestationsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrv_attestations_recorded_total",
			Help: "Total attestation records persisted",
		}),
		AnchorOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrv_anchor_outcomes_total",
			Help: "Total anchoring outcomes by ledger status",
		}, []string{"ledger_status"}),
		AnchorLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mrv_anchor_duration_seconds",
			Help:    "Duration of ledger anchoring including confirmation wait",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		}),
		AnchorQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mrv_anchor_queue_depth",
			Help: "Anchoring jobs waiting for a worker",
		}),
		CreditTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrv_credit_transitions_total",
			Help: "Total credit lifecycle transitions by target status",
		}, []string{"status"}),
		LedgerUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mrv_ledger_up",
			Help: "Whether the last ledger health probe succeeded",
		}),
		StalePending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mrv_attestations_stale_pending",
			Help: "Pending attestations older than the confirmation timeout",
		}),
	}
}

func (m *Metrics) AttestationRecorded() {
	if m != nil {
		m.AttestationsRecorded.Inc()
	}
}

func (m *Metrics) AnchorOutcome(status string) {
	if m != nil {
		m.AnchorOutcomes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ObserveAnchorLatency(d time.Duration) {
	if m != nil {
		m.AnchorLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.AnchorQueueDepth.Set(float64(n))
	}
}

// CreditTransition satisfies credits.TransitionObserver.
func (m *Metrics) CreditTransition(to string) {
	if m != nil {
		m.CreditTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) SetLedgerUp(up bool) {
	if m != nil {
		v := 0.0
		if up {
			v = 1
		}
		m.LedgerUp.Set(v)
	}
}

func (m *Metrics) SetStalePending(n int) {
	if m != nil {
		m.StalePending.Set(float64(n))
	}
}
