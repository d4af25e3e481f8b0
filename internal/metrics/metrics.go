// ============================================================================
// Judge Engine Metrics - Prometheus Instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose execution engine metrics for Prometheus
//
// Metric Groups:
//
//   1. Admission (RED on submissions):
//      - judge_jobs_submitted_total         counter
//      - judge_jobs_active                  gauge
//      - judge_jobs_queued                  gauge
//      - judge_job_verdicts_total{verdict}  counter
//      - judge_job_duration_seconds         histogram
//
//   2. Execution:
//      - judge_compile_duration_seconds{language}  histogram
//      - judge_tests_total{path,verdict}           counter, path = pool|process
//
//   3. Warm pool (USE on workers):
//      - judge_pool_workers_alive    gauge
//      - judge_pool_respawns_total   counter
//      - judge_pool_fallbacks_total  counter
//
//   4. Boundary:
//      - judge_rate_limited_total    counter
//
// Useful queries:
//
//   # p95 judge latency
//   histogram_quantile(0.95, rate(judge_job_duration_seconds_bucket[5m]))
//
//   # saturation: jobs waiting for a slot
//   judge_jobs_queued
//
//   # pool health: fallbacks per minute
//   rate(judge_pool_fallbacks_total[1m])
//
// All methods are safe on a nil *Collector so components can run without
// metrics in tests and in the local `judge run` command.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Test execution paths.
const (
	PathPool    = "pool"
	PathProcess = "process"
)

// Collector Prometheus metrics collector
type Collector struct {
	jobsSubmitted prometheus.Counter
	jobsActive    prometheus.Gauge
	jobsQueued    prometheus.Gauge
	jobVerdicts   *prometheus.CounterVec
	jobDuration   prometheus.Histogram

	compileDuration *prometheus.HistogramVec
	tests           *prometheus.CounterVec

	poolAlive     prometheus.Gauge
	poolRespawns  prometheus.Counter
	poolFallbacks prometheus.Counter

	rateLimited prometheus.Counter
}

// NewCollector creates the collector and registers it with the default registerer.
func NewCollector() *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "judge_jobs_submitted_total",
			Help: "Total number of submissions admitted for judging",
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judge_jobs_active",
			Help: "Submissions currently executing",
		}),
		jobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judge_jobs_queued",
			Help: "Submissions waiting for an execution slot",
		}),
		jobVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_job_verdicts_total",
			Help: "Final submission verdicts",
		}, []string{"verdict"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "judge_job_duration_seconds",
			Help:    "Wall time from admission to verdict",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		compileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "judge_compile_duration_seconds",
			Help:    "Time spent preparing (writing and compiling) submissions",
			Buckets: prometheus.DefBuckets,
		}, []string{"language"}),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_tests_total",
			Help: "Executed test cases by execution path and verdict",
		}, []string{"path", "verdict"}),
		poolAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judge_pool_workers_alive",
			Help: "Live warm workers",
		}),
		poolRespawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "judge_pool_respawns_total",
			Help: "Warm workers respawned after death or disposal",
		}),
		poolFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "judge_pool_fallbacks_total",
			Help: "Pooled submissions that fell back to per-process execution",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "judge_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}

	prometheus.MustRegister(c.jobsSubmitted)
	prometheus.MustRegister(c.jobsActive)
	prometheus.MustRegister(c.jobsQueued)
	prometheus.MustRegister(c.jobVerdicts)
	prometheus.MustRegister(c.jobDuration)
	prometheus.MustRegister(c.compileDuration)
	prometheus.MustRegister(c.tests)
	prometheus.MustRegister(c.poolAlive)
	prometheus.MustRegister(c.poolRespawns)
	prometheus.MustRegister(c.poolFallbacks)
	prometheus.MustRegister(c.rateLimited)

	return c
}

// RecordSubmitted records an admitted submission.
func (c *Collector) RecordSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

// UpdateAdmission sets the active/queued gauges.
func (c *Collector) UpdateAdmission(active, queued int) {
	if c == nil {
		return
	}
	c.jobsActive.Set(float64(active))
	c.jobsQueued.Set(float64(queued))
}

// RecordVerdict records a finished submission.
func (c *Collector) RecordVerdict(verdict string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobVerdicts.WithLabelValues(verdict).Inc()
	c.jobDuration.Observe(d.Seconds())
}

// RecordCompile records the preparation time of one submission.
func (c *Collector) RecordCompile(language string, d time.Duration) {
	if c == nil {
		return
	}
	c.compileDuration.WithLabelValues(language).Observe(d.Seconds())
}

// RecordTest records one executed test case.
func (c *Collector) RecordTest(path, verdict string) {
	if c == nil {
		return
	}
	c.tests.WithLabelValues(path, verdict).Inc()
}

// SetPoolAlive sets the live worker gauge.
func (c *Collector) SetPoolAlive(n int) {
	if c == nil {
		return
	}
	c.poolAlive.Set(float64(n))
}

// RecordRespawn records a successful worker respawn.
func (c *Collector) RecordRespawn() {
	if c == nil {
		return
	}
	c.poolRespawns.Inc()
}

// RecordFallback records a pooled submission degraded to per-process execution.
func (c *Collector) RecordFallback() {
	if c == nil {
		return
	}
	c.poolFallbacks.Inc()
}

// RecordRateLimited records a throttled request.
func (c *Collector) RecordRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Inc()
}

// NewServer returns an HTTP server exposing /metrics on port. The caller owns
// ListenAndServe and Shutdown.
func NewServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
