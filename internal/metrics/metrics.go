// Package metrics exposes Prometheus counters for payment application,
// ledger postings and reconciliation actions.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "saccoledger"

// Metrics holds the counters recorded by the ledger subsystem.
type Metrics struct {
	paymentsApplied *prometheus.CounterVec
	ledgerPostings  *prometheus.CounterVec
	reconActions    *prometheus.CounterVec
	rateLimited     prometheus.Counter
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		paymentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_apply_total",
			Help:      "Payment applications by resulting status (REPLAY for idempotent replays).",
		}, []string{"status"}),
		ledgerPostings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entry writes by memo and outcome (created or existing).",
		}, []string{"memo", "outcome"}),
		reconActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_actions_total",
			Help:      "Reconciliation remediation actions by type and outcome.",
		}, []string{"action", "outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-identity rate limiter.",
		}),
	}
	reg.MustRegister(m.paymentsApplied, m.ledgerPostings, m.reconActions, m.rateLimited)
	return m
}

// PaymentApplied counts one payment application.
func (m *Metrics) PaymentApplied(status string) {
	if m == nil {
		return
	}
	m.paymentsApplied.WithLabelValues(status).Inc()
}

// LedgerEntry counts one ledger write attempt.
func (m *Metrics) LedgerEntry(memo string, created bool) {
	if m == nil {
		return
	}
	outcome := "existing"
	if created {
		outcome = "created"
	}
	m.ledgerPostings.WithLabelValues(memo, outcome).Inc()
}

// ReconAction counts one remediation action. outcome is "ok", "queued" or "error".
func (m *Metrics) ReconAction(action, outcome string) {
	if m == nil {
		return
	}
	m.reconActions.WithLabelValues(action, outcome).Inc()
}

// RateLimited counts one rejected request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
