package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "authcore"

// Metrics counts authentication outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	AuthAttempts       *prometheus.CounterVec
	Decisions          *prometheus.CounterVec
	AuditWriteFailures *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg when given.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "auth_attempts_total",
				Help:      "Authentication attempts by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "authorization_decisions_total",
				Help:      "Authorization guard decisions.",
			},
			[]string{"decision"},
		),
		AuditWriteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "audit_write_failures_total",
				Help:      "Best effort audit writes that did not persist.",
			},
			[]string{"action"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.AuthAttempts, m.Decisions, m.AuditWriteFailures)
	}

	return m
}

// ObserveAttempt counts a login, register, refresh or authenticate call.
func (m *Metrics) ObserveAttempt(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.AuthAttempts.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveDecision(err error) {
	if m == nil {
		return
	}
	decision := "allow"
	if err != nil {
		decision = string(KindOf(err))
	}
	m.Decisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveAuditFailure(action string) {
	if m == nil {
		return
	}
	m.AuditWriteFailures.WithLabelValues(action).Inc()
}
