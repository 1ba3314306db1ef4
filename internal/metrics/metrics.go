package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "loadtoy_"

var runsStarted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "runs_started_total",
		Help: "Number of load-generator runs launched",
	},
	[]string{"class"},
)

var runsFinished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "runs_finished_total",
		Help: "Number of runs that finished, by derived status",
	},
	[]string{"class", "status"},
)

var runConflicts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "run_conflicts_total",
		Help: "Number of start requests rejected because a run of the class was already running",
	},
	[]string{"class"},
)

var runsRunning = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "runs_running",
		Help: "Number of runs currently running",
	},
	[]string{"class"},
)

var runDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "run_duration_seconds",
		Help:    "Wall-clock duration of finished runs",
		Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400, 28800, 86400},
	},
	[]string{"class"},
)

// Metrics records run lifecycle events. The collectors are process-wide.
type Metrics struct{}

var m = &Metrics{}

func Get() *Metrics {
	return m
}

func (m *Metrics) RecordStarted(class string) {
	runsStarted.WithLabelValues(class).Inc()
	runsRunning.WithLabelValues(class).Inc()
}

func (m *Metrics) RecordFinished(class, status string, duration time.Duration) {
	runsFinished.WithLabelValues(class, status).Inc()
	runsRunning.WithLabelValues(class).Dec()
	runDuration.WithLabelValues(class).Observe(duration.Seconds())
}

// RecordSpawnFailure counts a run whose process never started. It was
// never counted as running.
func (m *Metrics) RecordSpawnFailure(class string) {
	runsFinished.WithLabelValues(class, "failed").Inc()
}

func (m *Metrics) RecordConflict(class string) {
	runConflicts.WithLabelValues(class).Inc()
}
