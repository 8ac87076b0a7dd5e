// Package jobmetrics exposes Prometheus collectors for background jobs
// and the detection sweep.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	detected  *prometheus.CounterVec
	collected prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration and success/failure
// counts, and returns the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddDetected increments the sweep result counter for a record status.
func (m *Metrics) AddDetected(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.detected.WithLabelValues(status).Add(float64(count))
}

// AddCollected adds successfully charged penalty cents.
func (m *Metrics) AddCollected(cents int64) {
	if m == nil || cents <= 0 {
		return
	}
	m.collected.Add(float64(cents))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overstay_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overstay_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overstay_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	detected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overstay_detected_records_total",
		Help: "Overstay records touched by detection sweeps, by status.",
	}, []string{"status"})
	collected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overstay_penalties_collected_cents_total",
		Help: "Penalty cents successfully collected.",
	})
	registerer.MustRegister(runs, failures, duration, detected, collected)
	return &Metrics{runs: runs, failures: failures, duration: duration, detected: detected, collected: collected}
}
