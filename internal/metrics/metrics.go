// Package metrics exposes Prometheus collectors for the crawl coordinator.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	admissionsTotal            *prometheus.CounterVec
	pagesFetchedTotal          *prometheus.CounterVec
	childrenLostTotal          prometheus.Counter
	jobsSubmittedTotal         prometheus.Counter
	jobsStoppedTotal           *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_tasks_total",
				Help: "Total number of frontier tasks handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordinator_task_duration_seconds",
				Help:    "Histogram of task processing time, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"outcome"},
		)

		admissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_admissions_total",
				Help: "Dedup gate decisions, labeled by result.",
			},
			[]string{"result"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_pages_fetched_total",
				Help: "Pages fetched successfully, labeled by site.",
			},
			[]string{"site"},
		)

		childrenLostTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_children_lost_total",
				Help: "Admitted links whose child task could not be published.",
			},
		)

		jobsSubmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_jobs_submitted_total",
				Help: "Total number of crawl jobs submitted.",
			},
		)

		jobsStoppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_jobs_stopped_total",
				Help: "Jobs moved to stopped, labeled by the winning stop reason.",
			},
			[]string{"reason"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one settled task.
func ObserveTask(outcome string, duration time.Duration) {
	Init()
	tasksTotal.WithLabelValues(outcome).Inc()
	taskDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveAdmission records a dedup gate decision.
func ObserveAdmission(admitted bool) {
	Init()
	result := "duplicate"
	if admitted {
		result = "admitted"
	}
	admissionsTotal.WithLabelValues(result).Inc()
}

// ObservePageFetched counts a successful fetch for the page's site.
func ObservePageFetched(pageURL string) {
	Init()
	pagesFetchedTotal.WithLabelValues(SanitizeSite(pageURL)).Inc()
}

// ObserveChildLost counts an admitted link that never reached the frontier.
func ObserveChildLost() {
	Init()
	childrenLostTotal.Inc()
}

// ObserveJobSubmitted counts a newly created job.
func ObserveJobSubmitted() {
	Init()
	jobsSubmittedTotal.Inc()
}

// ObserveJobStopped counts a won stop transition.
func ObserveJobStopped(reason string) {
	Init()
	jobsStoppedTotal.WithLabelValues(reason).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
