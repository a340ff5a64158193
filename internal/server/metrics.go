package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the license server's Prometheus collectors.
type metrics struct {
	validations       *prometheus.CounterVec
	codesIssued       prometheus.Counter
	sessionsCreated   prometheus.Counter
	paymentsCompleted prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baize",
			Subsystem: "license",
			Name:      "validations_total",
			Help:      "Activation code validation attempts by outcome.",
		}, []string{"outcome"}),
		codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baize",
			Subsystem: "license",
			Name:      "codes_issued_total",
			Help:      "Activation codes issued, across admin and payment paths.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baize",
			Subsystem: "payment",
			Name:      "sessions_created_total",
			Help:      "Payment checkout sessions created.",
		}),
		paymentsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baize",
			Subsystem: "payment",
			Name:      "completions_total",
			Help:      "Payment sessions completed via the provider webhook.",
		}),
	}
	reg.MustRegister(m.validations, m.codesIssued, m.sessionsCreated, m.paymentsCompleted)
	return m
}

// Validation outcome labels.
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)
