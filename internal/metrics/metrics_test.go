package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IntentCreated("DOMESTIC_GATEWAY")
	m.Settlement("recorded")
	m.LedgerAttempt(false)
	m.LedgerAttempt(false)
	m.LedgerAttempt(true)
	m.LedgerDegraded()
	m.Notification("sms", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.intentsCreated.WithLabelValues("DOMESTIC_GATEWAY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues("recorded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerAttempts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerDegraded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("sms", "false")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IntentCreated("x")
		m.Settlement("x")
		m.LedgerAttempt(true)
		m.LedgerDegraded()
		m.Notification("x", true)
		m.RateFetched("x")
		m.Reconciliation("x")
	})
}
