package dispatch

import (
	"time"

	"emperror.dev/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/priyxstudio/kiwi/customid"
)

// Outcome labels recorded for every dispatched interaction.
const (
	OutcomeOK           = "ok"
	OutcomeFailed       = "failed"
	OutcomeDenied       = "denied"
	OutcomeUnknown      = "unknown"
	OutcomeMalformed    = "malformed"
	OutcomeRegistered   = "registered"
	OutcomeRegistration = "registration_failed"
)

// Metrics holds the prometheus collectors of both routers.
type Metrics struct {
	interactions  *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	registrations *prometheus.CounterVec
}

// NewMetrics creates the dispatch collectors and registers them with reg. A
// nil registerer uses the default prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		interactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiwi",
			Subsystem: "dispatch",
			Name:      "interactions_total",
			Help:      "Number of dispatched interactions by kind, target and outcome.",
		}, []string{"kind", "target", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kiwi",
			Subsystem: "dispatch",
			Name:      "handler_duration_seconds",
			Help:      "Time spent running command and component handlers.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind", "target"}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiwi",
			Subsystem: "dispatch",
			Name:      "command_registrations_total",
			Help:      "Number of command listing replacements sent to the platform.",
		}, []string{"scope", "outcome"}),
	}
}

func (m *Metrics) observe(kind, target string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrNotPermitted):
		outcome = OutcomeDenied
	case errors.Is(err, ErrUnknownHandler), errors.Is(err, ErrUnknownCommand):
		outcome = OutcomeUnknown
	case errors.Is(err, customid.ErrMalformed):
		outcome = OutcomeMalformed
	default:
		outcome = OutcomeFailed
	}
	m.interactions.WithLabelValues(kind, target, outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeFailed {
		m.duration.WithLabelValues(kind, target).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) registration(scope string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeRegistered
	if err != nil {
		outcome = OutcomeRegistration
	}
	m.registrations.WithLabelValues(scope, outcome).Inc()
}
