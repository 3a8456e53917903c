package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/theroutercompany/rcfunctions/pkg/metrics"
)

const (
	routeFunction = "function"
	routeHealth   = "health"
	routeReady    = "readiness"
	routeMetrics  = "metrics"
	routeOpenAPI  = "openapi"
	routeOther    = "other"
)

type requestMetrics struct {
	functionPath string
	requests     *prometheus.CounterVec
	inflight     *prometheus.GaugeVec
	duration     *prometheus.HistogramVec
}

func newRequestMetrics(reg *metrics.Registry, functionPath string) *requestMetrics {
	if reg == nil {
		return nil
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: reg.Namespace(),
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests labelled by route and outcome.",
	}, []string{"route", "outcome"})

	inflight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: reg.Namespace(),
		Name:      "http_inflight_requests",
		Help:      "Current number of in-flight HTTP requests by route.",
	}, []string{"route"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: reg.Namespace(),
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	reg.Register(requests)
	reg.Register(inflight)
	reg.Register(duration)

	return &requestMetrics{
		functionPath: functionPath,
		requests:     requests,
		inflight:     inflight,
		duration:     duration,
	}
}

func (m *requestMetrics) track(r *http.Request) func(status int, elapsed time.Duration) {
	if m == nil || r == nil {
		return func(int, time.Duration) {}
	}

	route := m.classify(r)
	m.inflight.WithLabelValues(route).Inc()

	return func(status int, elapsed time.Duration) {
		outcome := "success"
		if status >= 400 {
			outcome = "error"
		}

		m.requests.WithLabelValues(route, outcome).Inc()
		m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
		m.inflight.WithLabelValues(route).Dec()
	}
}

func (m *requestMetrics) classify(r *http.Request) string {
	path := strings.TrimRight(r.URL.Path, "/")
	switch path {
	case m.functionPath:
		return routeFunction
	case "/health":
		return routeHealth
	case "/readyz", "/readiness":
		return routeReady
	case "/metrics":
		return routeMetrics
	case "/openapi.json":
		return routeOpenAPI
	default:
		return routeOther
	}
}
