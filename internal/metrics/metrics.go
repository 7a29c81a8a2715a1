// Package metrics exposes Prometheus counters for the referral flow.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Referral link visit outcomes.
const (
	VisitIssued            = "issued"
	VisitAlreadyAttributed = "already_attributed"
	VisitNotFound          = "not_found"
	VisitInvalid           = "invalid"
	VisitError             = "error"
)

// Signup attribution outcomes.
const (
	AttributionAttributed      = "attributed"
	AttributionNoToken         = "no_token"
	AttributionAlreadyReferred = "already_referred"
	AttributionDangling        = "dangling"
	AttributionSelf            = "self"
	AttributionLookupError     = "lookup_error"
	AttributionIncrementError  = "increment_error"
)

// Referral holds the referral counters. A nil *Referral is valid and records
// nothing.
type Referral struct {
	visits         *prometheus.CounterVec
	attributions   *prometheus.CounterVec
	codeCollisions prometheus.Counter
}

// New registers the referral counters on reg.
func New(reg prometheus.Registerer) *Referral {
	m := &Referral{
		visits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "visits_total",
			Help:      "Referral link visits by outcome.",
		}, []string{"outcome"}),
		attributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "attributions_total",
			Help:      "Signup attribution attempts by outcome.",
		}, []string{"outcome"}),
		codeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "referral",
			Name:      "code_collisions_total",
			Help:      "Referral code draws rejected because the code was already taken.",
		}),
	}
	reg.MustRegister(m.visits, m.attributions, m.codeCollisions)
	return m
}

func (m *Referral) Visit(outcome string) {
	if m == nil {
		return
	}
	m.visits.WithLabelValues(outcome).Inc()
}

func (m *Referral) Attribution(outcome string) {
	if m == nil {
		return
	}
	m.attributions.WithLabelValues(outcome).Inc()
}

func (m *Referral) CodeCollision() {
	if m == nil {
		return
	}
	m.codeCollisions.Inc()
}

// Visits returns the visit counter for tests and diagnostics.
func (m *Referral) Visits() *prometheus.CounterVec { return m.visits }

// Attributions returns the attribution counter for tests and diagnostics.
func (m *Referral) Attributions() *prometheus.CounterVec { return m.attributions }

// CodeCollisions returns the collision counter for tests and diagnostics.
func (m *Referral) CodeCollisions() prometheus.Counter { return m.codeCollisions }
