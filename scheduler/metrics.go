package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors for job runs.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the scheduler collectors and registers them with reg. A
// nil registerer uses the default prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiwi",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Number of scheduled job runs by module, job and outcome.",
		}, []string{"module", "job", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kiwi",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Time spent running scheduled jobs.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"module", "job"}),
	}
}

func (m *Metrics) observe(module, job string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.runs.WithLabelValues(module, job, outcome).Inc()
	m.duration.WithLabelValues(module, job).Observe(time.Since(started).Seconds())
}
