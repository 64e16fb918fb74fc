package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	enqueued      *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	uploadSeconds prometheus.Histogram
	hostingErrors *prometheus.CounterVec
	posts         *prometheus.CounterVec
	batches       prometheus.Counter
	staleRequeued prometheus.Counter
	queueItems    *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lulubot_enqueued_total",
			Help: "Queue items created, by source kind.",
		}, []string{"source"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lulubot_uploads_total",
			Help: "Upload attempts by outcome (uploaded, retry, failed).",
		}, []string{"outcome"}),
		uploadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lulubot_upload_duration_seconds",
			Help:    "Time spent on one upload attempt.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600, 7200},
		}),
		hostingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lulubot_hosting_errors_total",
			Help: "Hosting failures by kind (network, rejected, malformed, other).",
		}, []string{"kind"}),
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lulubot_posts_total",
			Help: "Channel posts by outcome (posted, failed).",
		}, []string{"outcome"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lulubot_post_batches_total",
			Help: "Post batches executed.",
		}),
		staleRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lulubot_stale_requeued_total",
			Help: "Uploading items moved back to pending after their claim expired.",
		}),
		queueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lulubot_queue_items",
			Help: "Current count of queue items by status.",
		}, []string{"status"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.enqueued, m.uploads, m.uploadSeconds, m.hostingErrors,
		m.posts, m.batches, m.staleRequeued, m.queueItems,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	c := strconv.Itoa(code)
	m.httpRequests.WithLabelValues(method, route, c).Inc()
	m.httpDuration.WithLabelValues(method, route, c).Observe(d.Seconds())
}

func (m *Metrics) IncEnqueued(source string) {
	if m != nil {
		m.enqueued.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ObserveUpload(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
	m.uploadSeconds.Observe(d.Seconds())
}

func (m *Metrics) IncHostingError(kind string) {
	if m != nil {
		m.hostingErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncPost(outcome string) {
	if m != nil {
		m.posts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncBatch() {
	if m != nil {
		m.batches.Inc()
	}
}

func (m *Metrics) AddStaleRequeued(n int) {
	if m != nil && n > 0 {
		m.staleRequeued.Add(float64(n))
	}
}

func (m *Metrics) SetQueueItems(status string, n int) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.queueItems.WithLabelValues(status).Set(float64(n))
}
