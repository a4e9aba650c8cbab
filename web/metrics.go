package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the view server's Prometheus collectors on a private registry.
type metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.HistogramVec
	loginFailures   prometheus.Counter
	loginThrottled  prometheus.Counter
	checkoutResults *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emporia_http_request_duration_seconds",
				Help:    "View request latency by route pattern and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emporia_login_failures_total",
			Help: "Logins rejected by the storefront API",
		}),
		loginThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emporia_login_throttled_total",
			Help: "Logins refused locally after repeated failures",
		}),
		checkoutResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emporia_checkout_results_total",
				Help: "Checkout attempts by final state and failure reason",
			},
			[]string{"state", "reason"},
		),
	}
	m.registry.MustRegister(m.requests, m.loginFailures, m.loginThrottled, m.checkoutResults)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeRequest(r *http.Request, status int, elapsed time.Duration) {
	route := "unmatched"
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			route = p
		}
	}
	m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
