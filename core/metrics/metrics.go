// Package metrics provides Prometheus collectors for broadcast delivery and
// supervised runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loginflow"

// Metrics implements broadcast.Recorder and supervisor.Observer.
type Metrics struct {
	delivered     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		delivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broadcast",
				Name:      "delivered_total",
				Help:      "Total number of snapshots delivered to subscribers",
			},
			[]string{"channel"},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broadcast",
				Name:      "dropped_total",
				Help:      "Total number of snapshots a subscriber never received",
			},
			[]string{"channel"},
		),
		publishErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broadcast",
				Name:      "publish_errors_total",
				Help:      "Total number of failed publishes by publish mode",
			},
			[]string{"mode"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "runs_total",
				Help:      "Total number of supervised runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "supervisor",
				Name:      "run_duration_seconds",
				Help:      "Duration of supervised runs in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
	}
}

func (m *Metrics) Delivered(channel string) {
	m.delivered.WithLabelValues(channel).Inc()
}

func (m *Metrics) Dropped(channel string, n int) {
	m.dropped.WithLabelValues(channel).Add(float64(n))
}

func (m *Metrics) PublishFailed(mode string) {
	m.publishErrors.WithLabelValues(mode).Inc()
}

// RunFinished records the outcome and duration of one supervised run.
func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// Handler exposes the metrics gathered by g. A nil g uses the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
