package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AttestationRecorded()
	m.AnchorOutcome("confirmed")
	m.AnchorOutcome("confirmed")
	m.CreditTransition("issued")
	m.SetLedgerUp(true)
	m.SetQueueDepth(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttestationsRecorded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnchorOutcomes.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CreditTransitions.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerUp))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnchorQueueDepth))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AttestationRecorded()
		m.AnchorOutcome("failed")
		m.CreditTransition("retired")
		m.SetLedgerUp(false)
		m.SetStalePending(3)
	})
}
