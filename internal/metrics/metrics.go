// Package metrics holds the Prometheus instrumentation for the carousel service.
//
// Metrics are scoped to a Registerer so tests can use a fresh
// prometheus.NewRegistry() without clashing with the default one.
//
//	cinereel_carousel_transitions_total   counter: index changes by trigger
//	cinereel_carousel_sessions_active     gauge: mounted carousel sessions
//	cinereel_trailer_resolutions_total    counter: resolver outcomes
//	cinereel_trailer_stale_total          counter: pipeline callbacks dropped as stale
//	cinereel_mute_commands_total          counter: mute commands by delivery result
//	cinereel_image_preloads_total         counter: preload fetches by result
//	cinereel_http_requests_total          counter: requests by method/route/status
//	cinereel_http_request_duration_seconds histogram: latency by method/route
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Transitions    *prometheus.CounterVec
	SessionsActive prometheus.Gauge
	Resolutions    *prometheus.CounterVec
	Stale          *prometheus.CounterVec
	MuteCommands   *prometheus.CounterVec
	Preloads       *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates and registers every metric with reg. Passing nil uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinereel_carousel_transitions_total",
			Help: "Carousel index changes by trigger.",
		}, []string{"trigger"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cinereel_carousel_sessions_active",
			Help: "Number of mounted carousel sessions.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinereel_trailer_resolutions_total",
			Help: "Trailer resolver outcomes.",
		}, []string{"result"}),
		Stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinereel_trailer_stale_total",
			Help: "Trailer pipeline callbacks dropped because their generation was superseded.",
		}, []string{"stage"}),
		MuteCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinereel_mute_commands_total",
			Help: "Mute commands by delivery result.",
		}, []string{"func", "result"}),
		Preloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinereel_image_preloads_total",
			Help: "Background image preloads by result.",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cinereel_http_requests_total",
			Help: "Total HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cinereel_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.Transitions,
		m.SessionsActive,
		m.Resolutions,
		m.Stale,
		m.MuteCommands,
		m.Preloads,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler exposes the registry the metrics were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := routePattern(r)
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// The helpers below are safe on a nil *Metrics so components can run
// uninstrumented in tests.

func (m *Metrics) Transition(trigger string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(trigger).Inc()
}

func (m *Metrics) Resolution(result string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) StaleDrop(stage string) {
	if m == nil {
		return
	}
	m.Stale.WithLabelValues(stage).Inc()
}

func (m *Metrics) MuteCommand(fn string, delivered bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !delivered {
		result = "no_window"
	}
	m.MuteCommands.WithLabelValues(fn, result).Inc()
}

func (m *Metrics) Preload(result string) {
	if m == nil {
		return
	}
	m.Preloads.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}
