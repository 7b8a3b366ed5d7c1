// Package monitoring exposes pipeline metrics to Prometheus and summarizes
// recent runs for health checks.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const namespace = "snowroute"

// Metrics holds the Prometheus collectors for the analysis pipeline.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec   // labels: outcome={success,error}
	StageDuration *prometheus.HistogramVec // labels: stage
	ScenesUsed    prometheus.Histogram
	RoutesScored  prometheus.Counter
	NoCoverage    prometheus.Counter
	MinIndex      prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"stage"}),
		ScenesUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scenes_used",
			Help:      "Scenes surviving the filter per run.",
			Buckets:   []float64{0, 1, 5, 10, 20, 40, 80},
		}),
		RoutesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_scored_total",
			Help:      "Merged routes scored.",
		}),
		NoCoverage: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_no_coverage_total",
			Help:      "Routes whose zone held no classified pixel.",
		}),
		MinIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "min_danger_index",
			Help:      "Lowest danger index of the last run.",
		}),
	}
}

// NewMetricsFor creates the metrics and registers them with reg.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.RunsTotal, m.StageDuration, m.ScenesUsed, m.RoutesScored, m.NoCoverage, m.MinIndex)
	return m
}

// WriteTextfile writes everything g gathers to path in the Prometheus text
// format, for node_exporter's textfile collector. The file is replaced
// atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return eris.Wrapf(err, "monitoring: write metrics textfile %s", path)
	}
	return nil
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RunFinished counts a run by outcome.
func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}
