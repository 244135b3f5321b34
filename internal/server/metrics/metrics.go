// Package metrics exposes Prometheus counters for the post pipeline. All
// methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	postsSigned    prometheus.Counter
	postsPublished *prometheus.CounterVec
	postsFailed    *prometheus.CounterVec
	miningDuration prometheus.Histogram
	signingSkipped prometheus.Counter
	passDuration   *prometheus.HistogramVec
	archiveErrors  prometheus.Counter
	notifyErrors   prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		postsSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "posts_signed_total",
			Help: "Total number of posts whose signed payload was stored.",
		}),
		postsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posts_published_total",
			Help: "Total number of posts published, by channel.",
		}, []string{"channel"}),
		postsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posts_failed_total",
			Help: "Total number of posts marked failed, by stage.",
		}, []string{"stage"}),
		miningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pow_mining_duration_seconds",
			Help:    "Time spent mining proof-of-work for one event (seconds).",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		signingSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signing_queue_skipped_total",
			Help: "Signing passes skipped because the previous one was still running.",
		}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_pass_duration_seconds",
			Help:    "Duration of signing queue and scheduler passes (seconds).",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_errors_total",
			Help: "Signed events that could not be archived.",
		}),
		notifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_errors_total",
			Help: "Status notifications that could not be sent.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		m.postsSigned,
		m.postsPublished,
		m.postsFailed,
		m.miningDuration,
		m.signingSkipped,
		m.passDuration,
		m.archiveErrors,
		m.notifyErrors,

		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// --- Pipeline ---
func (m *Metrics) IncSigned() {
	if m != nil {
		m.postsSigned.Inc()
	}
}

func (m *Metrics) IncPublished(channel string) {
	if m != nil {
		m.postsPublished.WithLabelValues(channel).Inc()
	}
}

// IncFailed counts a failed post; stage is "signing" or "publishing".
func (m *Metrics) IncFailed(stage string) {
	if m != nil {
		m.postsFailed.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) ObserveMining(d time.Duration) {
	if m != nil {
		m.miningDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncSigningSkipped() {
	if m != nil {
		m.signingSkipped.Inc()
	}
}

func (m *Metrics) ObservePass(loop string, d time.Duration) {
	if m != nil {
		m.passDuration.WithLabelValues(loop).Observe(d.Seconds())
	}
}

func (m *Metrics) IncArchiveError() {
	if m != nil {
		m.archiveErrors.Inc()
	}
}

func (m *Metrics) IncNotifyError() {
	if m != nil {
		m.notifyErrors.Inc()
	}
}

// --- HTTP ---
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	c := strconv.Itoa(code)
	m.httpRequests.WithLabelValues(method, route, c).Inc()
	m.httpDuration.WithLabelValues(method, route, c).Observe(d.Seconds())
}
