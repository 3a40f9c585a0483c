package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the fee pipeline instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	intentsCreated  *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	ledgerAttempts  *prometheus.CounterVec
	ledgerDegraded  prometheus.Counter
	notifications   *prometheus.CounterVec
	ratesFetched    *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
}

// New creates the instruments and registers them with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		intentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fees_intents_created_total",
			Help: "Payment intents created by gateway provider.",
		}, []string{"provider"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fees_settlements_total",
			Help: "Settlement attempts by final outcome.",
		}, []string{"outcome"}),
		ledgerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fees_ledger_attempts_total",
			Help: "Ledger submissions by result.",
		}, []string{"result"}),
		ledgerDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fees_ledger_degraded_total",
			Help: "Placeholder ledger references issued without a ledger backend.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fees_notifications_total",
			Help: "Notification attempts by channel and delivery outcome.",
		}, []string{"channel", "delivered"}),
		ratesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fees_exchange_rates_total",
			Help: "Exchange rate lookups by source.",
		}, []string{"source"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fees_ledger_reconciliations_total",
			Help: "Reconciliation retries of failed ledger writes by result.",
		}, []string{"result"}),
	}

	registerer.MustRegister(
		m.intentsCreated,
		m.settlements,
		m.ledgerAttempts,
		m.ledgerDegraded,
		m.notifications,
		m.ratesFetched,
		m.reconciliations,
	)
	return m
}

func (m *Metrics) IntentCreated(provider string) {
	if m == nil {
		return
	}
	m.intentsCreated.WithLabelValues(provider).Inc()
}

// Settlement counts a finished settlement; outcome is one of
// recorded, verification_failed, ledger_failed, rejected.
func (m *Metrics) Settlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LedgerAttempt(success bool) {
	if m == nil {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	m.ledgerAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) LedgerDegraded() {
	if m == nil {
		return
	}
	m.ledgerDegraded.Inc()
}

func (m *Metrics) Notification(channel string, delivered bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, strconv.FormatBool(delivered)).Inc()
}

func (m *Metrics) RateFetched(source string) {
	if m == nil {
		return
	}
	m.ratesFetched.WithLabelValues(source).Inc()
}

func (m *Metrics) Reconciliation(result string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(result).Inc()
}
