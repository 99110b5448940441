// Package metrics exposes the lesson service's Prometheus counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OTPRequests       *prometheus.CounterVec // outcome=sent|bypass|cooldown|error
	OTPVerifyFailures *prometheus.CounterVec // reason=invalid|expired|locked
	SignedURLs        *prometheus.CounterVec // type=video|thumbnail
	Heartbeats        prometheus.Counter
	DeviceConflicts   prometheus.Counter
	ProgressWrites    *prometheus.CounterVec // kind=checkpoint|duration
	RateLimited       *prometheus.CounterVec // route

	requests *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonstream_otp_requests_total",
			Help: "Verification code requests by outcome",
		}, []string{"outcome"}),
		OTPVerifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonstream_otp_verify_failures_total",
			Help: "Failed verification attempts by reason",
		}, []string{"reason"}),
		SignedURLs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonstream_signed_urls_total",
			Help: "Signed media URLs issued by asset type",
		}, []string{"type"}),
		Heartbeats: f.NewCounter(prometheus.CounterOpts{
			Name: "lessonstream_heartbeats_total",
			Help: "Playback heartbeats accepted",
		}),
		DeviceConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "lessonstream_device_conflicts_total",
			Help: "Heartbeats rejected because another device holds the lease",
		}),
		ProgressWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonstream_progress_writes_total",
			Help: "Progress checkpoints and duration backfills stored",
		}, []string{"kind"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonstream_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"route"}),
		requests: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lessonstream_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Middleware records latency labelled by the matched chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}
