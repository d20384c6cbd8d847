package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	tipsTotal        *prometheus.CounterVec
	historyTotal     *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	eventSubscribers prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	tips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "megatips_realtime_sends_total",
		Help: "Realtime tip submissions by outcome",
	}, []string{"status"})

	hist := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "megatips_history_requests_total",
		Help: "Tip history and receipt lookups by outcome",
	}, []string{"kind", "status"})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "megatips_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "megatips_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
	}, []string{"route"})

	subs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "megatips_event_subscribers",
		Help: "Connected event stream subscribers",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(tips, hist, requests, duration, subs)

	return &metricsRegistry{
		registry:         r,
		tipsTotal:        tips,
		historyTotal:     hist,
		requestsTotal:    requests,
		requestDuration:  duration,
		eventSubscribers: subs,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incTip(status string) {
	m.tipsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incHistory(kind, status string) {
	m.historyTotal.WithLabelValues(kind, status).Inc()
}

func (m *metricsRegistry) observeRequest(route string, code int, d time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *metricsRegistry) setSubscribers(n int) {
	m.eventSubscribers.Set(float64(n))
}
