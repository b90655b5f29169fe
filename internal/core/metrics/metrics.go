package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the Prometheus instruments for the hub.
type Collector struct {
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	websocketConnections prometheus.Gauge
	adapterActions       *prometheus.CounterVec
	zigbeeDevices        *prometheus.GaugeVec
	entityCount          *prometheus.GaugeVec
}

// NewCollector registers all instruments on the default registry.
func NewCollector() *Collector {
	return &Collector{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hearth_websocket_connections",
				Help: "Number of active WebSocket clients",
			},
		),
		adapterActions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_adapter_actions_total",
				Help: "Control actions executed per adapter",
			},
			[]string{"adapter", "success"},
		),
		zigbeeDevices: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hearth_zigbee_devices",
				Help: "Paired Zigbee devices by availability",
			},
			[]string{"available"},
		),
		entityCount: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hearth_entities",
				Help: "Entities registered per source",
			},
			[]string{"source"},
		),
	}
}

// RecordHTTPRequest feeds the request counter and latency histogram.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (c *Collector) SetWebSocketConnections(n int) {
	c.websocketConnections.Set(float64(n))
}

func (c *Collector) RecordAdapterAction(adapter string, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	c.adapterActions.WithLabelValues(adapter, label).Inc()
}

func (c *Collector) SetZigbeeDevices(available, unavailable int) {
	c.zigbeeDevices.WithLabelValues("true").Set(float64(available))
	c.zigbeeDevices.WithLabelValues("false").Set(float64(unavailable))
}

func (c *Collector) SetEntityCount(source string, n int) {
	c.entityCount.WithLabelValues(source).Set(float64(n))
}

// Handler serves the scrape endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}
