package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the hub's Prometheus metrics on a private registry so tests
// can build throwaway instances without collisions.
type Collector struct {
	registry *prometheus.Registry

	connections    prometheus.Gauge
	classified     *prometheus.CounterVec
	devicesOnline  prometheus.Gauge
	incidents      *prometheus.CounterVec
	broadcasts     *prometheus.CounterVec
	broadcastDrops prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roadwatch_connections",
			Help: "Open persistent connections.",
		}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadwatch_connections_classified_total",
			Help: "Connections classified by register frames, by role.",
		}, []string{"role"}),
		devicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roadwatch_devices_online",
			Help: "Field devices currently tracked by the registry.",
		}),
		incidents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadwatch_incidents_received_total",
			Help: "Incidents accepted, by ingestion source.",
		}, []string{"source"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadwatch_broadcasts_total",
			Help: "Broadcast events dispatched, by frame type.",
		}, []string{"type"}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roadwatch_broadcast_drops_total",
			Help: "Per-connection sends skipped because the peer was closed or slow.",
		}),
	}

	reg.MustRegister(
		c.connections, c.classified, c.devicesOnline,
		c.incidents, c.broadcasts, c.broadcastDrops,
	)
	return c
}

func (c *Collector) ConnectionOpened() { c.connections.Inc() }
func (c *Collector) ConnectionClosed() { c.connections.Dec() }

func (c *Collector) ConnectionClassified(role string) {
	c.classified.WithLabelValues(role).Inc()
}

func (c *Collector) SetDevicesOnline(n int) {
	c.devicesOnline.Set(float64(n))
}

func (c *Collector) IncidentReceived(source string) {
	c.incidents.WithLabelValues(source).Inc()
}

func (c *Collector) Broadcast(frameType string) {
	c.broadcasts.WithLabelValues(frameType).Inc()
}

func (c *Collector) BroadcastDropped() { c.broadcastDrops.Inc() }

// Handler exposes the private registry for the /metrics route.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
