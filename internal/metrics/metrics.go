package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors the dev server reports.
type Metrics struct {
	ProxyRequests *prometheus.CounterVec
	ProxyDuration *prometheus.HistogramVec
	ConfigReloads *prometheus.CounterVec
	UpstreamUp    *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a private registry along
// with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		ProxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devserver_proxy_requests_total",
				Help: "Total number of proxied requests by route and response code",
			},
			[]string{"route", "code"},
		),
		ProxyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devserver_proxy_request_duration_seconds",
				Help:    "Time spent proxying a request to the upstream",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ConfigReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devserver_config_reloads_total",
				Help: "Config file reloads by result (ok, invalid, failed)",
			},
			[]string{"result"},
		),
		UpstreamUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devserver_upstream_up",
				Help: "Whether the last probe of a route's upstream succeeded",
			},
			[]string{"route"},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.ProxyRequests,
		m.ProxyDuration,
		m.ConfigReloads,
		m.UpstreamUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveProxy records one proxied request.
func (m *Metrics) ObserveProxy(route string, code int, elapsed time.Duration) {
	m.ProxyRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.ProxyDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// SetUpstreamUp records the latest probe outcome for route.
func (m *Metrics) SetUpstreamUp(route string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.UpstreamUp.WithLabelValues(route).Set(v)
}

// ObserveReload counts a config reload by result.
func (m *Metrics) ObserveReload(result string) {
	m.ConfigReloads.WithLabelValues(result).Inc()
}
