// Package metrics exposes prometheus counters for job and stream activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	JobsSubmitted   prometheus.Counter
	JobsCompleted   prometheus.Counter
	JobsErrored     prometheus.Counter
	JobsCancelled   prometheus.Counter
	JobsResumed     prometheus.Counter
	Sections        *prometheus.CounterVec // outcome: generated|fallback
	EventsPublished prometheus.Counter
	Observers       prometheus.Gauge
}

// New registers the metric set on the given registerer. Pass a fresh
// registry in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "briefline_jobs_submitted_total",
			Help: "Research jobs accepted for processing.",
		}),
		JobsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "briefline_jobs_completed_total",
			Help: "Jobs that reached completed status.",
		}),
		JobsErrored: f.NewCounter(prometheus.CounterOpts{
			Name: "briefline_jobs_errored_total",
			Help: "Jobs that reached error status.",
		}),
		JobsCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "briefline_jobs_cancelled_total",
			Help: "Jobs cancelled by request.",
		}),
		JobsResumed: f.NewCounter(prometheus.CounterOpts{
			Name: "briefline_jobs_resumed_total",
			Help: "Jobs restarted via resume.",
		}),
		Sections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "briefline_sections_total",
			Help: "Sections persisted, by outcome.",
		}, []string{"outcome"}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "briefline_events_published_total",
			Help: "Events broadcast to job streams.",
		}),
		Observers: f.NewGauge(prometheus.GaugeOpts{
			Name: "briefline_stream_observers",
			Help: "Currently attached stream observers.",
		}),
	}
}

// NewUnregistered returns a metric set on a private registry, for use in
// tests and in code paths that do not scrape.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
