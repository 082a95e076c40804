package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "heatisland"

// Metrics are the Prometheus collectors updated after every run.
type Metrics struct {
	runs         *prometheus.CounterVec
	records      prometheus.Counter
	pairFailures *prometheus.CounterVec
	duration     prometheus.Histogram
	lastSuccess  prometheus.Gauge
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		records: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_records_loaded_total",
			Help:      "Observation rows upserted by successful pairs.",
		}),
		pairFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_pair_failures_total",
			Help:      "Failed location pairs by urban and rural name.",
		}, []string{"urban", "rural"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall clock duration of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}
}

func (m *Metrics) observe(r Report) {
	if m == nil {
		return
	}

	m.runs.WithLabelValues(r.Status).Inc()
	m.records.Add(float64(r.TotalRecords))
	m.duration.Observe(r.DurationSeconds)
	for _, p := range r.LocationPairs {
		if p.Status == StatusError {
			m.pairFailures.WithLabelValues(p.UrbanName, p.RuralName).Inc()
		}
	}
	if r.Succeeded() {
		m.lastSuccess.Set(float64(r.EndTime.Unix()))
	}
}
