// Package metrics records pipeline run statistics in a private Prometheus
// registry and dumps them as a node_exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cfpradar"

// Run holds the collectors for pipeline runs.
type Run struct {
	reg *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.GaugeVec
	fetchAttempts *prometheus.GaugeVec
	stageDuration *prometheus.GaugeVec
	stageEvents   *prometheus.GaugeVec
	months        prometheus.Gauge
	runsTotal     *prometheus.CounterVec
	lastSuccessTS prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Run {
	r := &Run{reg: prometheus.NewRegistry()}

	r.fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_fetches_total",
		Help:      "Source fetches by outcome",
	}, []string{"source", "result"})
	r.fetchDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_fetch_duration_seconds",
		Help:      "Wall time of the last fetch per source, retries included",
	}, []string{"source"})
	r.fetchAttempts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_fetch_attempts",
		Help:      "Attempts used by the last fetch per source",
	}, []string{"source"})
	r.stageDuration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of the last run of each pipeline stage",
	}, []string{"stage"})
	r.stageEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "events",
		Help:      "Event counts produced by the last run, by kind",
	}, []string{"kind"})
	r.months = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "months",
		Help:      "Populated monthly partitions",
	})
	r.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline runs by outcome",
	}, []string{"result"})
	r.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful full run",
	})

	r.reg.MustRegister(
		r.fetchTotal, r.fetchDuration, r.fetchAttempts,
		r.stageDuration, r.stageEvents, r.months,
		r.runsTotal, r.lastSuccessTS,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Run) Registry() *prometheus.Registry { return r.reg }

func (r *Run) ObserveFetch(source string, ok bool, attempts int, elapsed time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.fetchTotal.WithLabelValues(source, result).Inc()
	r.fetchDuration.WithLabelValues(source).Set(elapsed.Seconds())
	r.fetchAttempts.WithLabelValues(source).Set(float64(attempts))
}

func (r *Run) ObserveStage(stage string, elapsed time.Duration) {
	r.stageDuration.WithLabelValues(stage).Set(elapsed.Seconds())
}

// SetEvents records a count such as "raw", "normalized", "dropped",
// "duplicates" or "final".
func (r *Run) SetEvents(kind string, n int) {
	r.stageEvents.WithLabelValues(kind).Set(float64(n))
}

func (r *Run) SetMonths(n int) { r.months.Set(float64(n)) }

// RunFinished counts a run and stamps the success time when err is nil.
func (r *Run) RunFinished(err error, at time.Time) {
	if err != nil {
		r.runsTotal.WithLabelValues("error").Inc()
		return
	}
	r.runsTotal.WithLabelValues("ok").Inc()
	r.lastSuccessTS.Set(float64(at.Unix()))
}

// WriteFile writes the registry in text exposition format. The write is
// atomic so a collector never reads a partial file.
func (r *Run) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
