// Package metrics exposes the process's prometheus collectors: phase
// durations, executor call sites, fetch counters, and cache hit rate.
// A bulk run can optionally serve these over HTTP; otherwise they are
// only accumulated in memory and no report of them is printed.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	executorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reprise_executor_call_duration_seconds",
		Help:    "Wall-clock duration of executor calls, labeled by call site (program name).",
		Buckets: prometheus.DefBuckets,
	}, []string{"site"})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reprise_phase_duration_seconds",
		Help:    "Duration of a job phase (fetch/install/test).",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"phase"})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reprise_jobs_total",
		Help: "Number of completed jobs by final status.",
	}, []string{"status"})

	packagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reprise_packages_fetched_total",
		Help: "Number of package files fetched from the remote repository.",
	})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reprise_repocache_lookups_total",
		Help: "Repository cache lookups, labeled by outcome (hit/miss).",
	}, []string{"outcome"})
)

// ObserveExecutorCall records one executor call's wall time.
func ObserveExecutorCall(site string, d time.Duration) {
	executorCallDuration.WithLabelValues(site).Observe(d.Seconds())
}

// ObservePhase records one phase's wall time.
func ObservePhase(phase string, d time.Duration) {
	phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// IncJob records a completed job's terminal status.
func IncJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// IncPackageFetched records one successful package download.
func IncPackageFetched() {
	packagesFetched.Inc()
}

// IncCacheLookup records a repository cache lookup outcome ("hit" or "miss").
func IncCacheLookup(outcome string) {
	cacheHits.WithLabelValues(outcome).Inc()
}

// Serve starts a /metrics HTTP endpoint in the background, returning the
// *http.Server so the caller can Shutdown it when the bulk run finishes.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}
