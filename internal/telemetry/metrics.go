package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hangar-project/hangar/internal/dispatch"
)

const namespace = "hangar"

// Metrics holds the server's prometheus collectors. It satisfies both
// dispatch.Observer and network.Observer.
type Metrics struct {
	registry *prometheus.Registry

	connections      *prometheus.GaugeVec
	connectionsTotal *prometheus.CounterVec
	frames           *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	routed           *prometheus.CounterVec
	dispatchDropped  *prometheus.CounterVec
	tickDuration     *prometheus.HistogramVec
	longTicks        *prometheus.CounterVec
}

// NewMetrics creates collectors on a private registry, with the Go and
// process collectors included.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Open TCP connections by listener role.",
		}, []string{"role"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted TCP connections by listener role.",
		}, []string{"role"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound sub-frames by listener role.",
		}, []string{"role"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound sub-frames dropped at the connection boundary.",
		}, []string{"role", "reason"}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_routed_total",
			Help:      "Decoded packets routed by protocol and affinity.",
		}, []string{"protocol", "affinity"}),
		dispatchDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Decoded packets dropped by the router.",
		}, []string{"protocol", "reason"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one tick by loop.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"loop"}),
		longTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "long_ticks_total",
			Help:      "Ticks that overran their interval.",
		}, []string{"loop"}),
	}

	m.registry.MustRegister(
		m.connections,
		m.connectionsTotal,
		m.frames,
		m.framesDropped,
		m.routed,
		m.dispatchDropped,
		m.tickDuration,
		m.longTicks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gauge registers a gauge read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnectionOpened(role string) {
	m.connections.WithLabelValues(role).Inc()
	m.connectionsTotal.WithLabelValues(role).Inc()
}

func (m *Metrics) ConnectionClosed(role string) {
	m.connections.WithLabelValues(role).Dec()
}

func (m *Metrics) FrameReceived(role string) {
	m.frames.WithLabelValues(role).Inc()
}

func (m *Metrics) FrameDropped(role, reason string) {
	m.framesDropped.WithLabelValues(role, reason).Inc()
}

func (m *Metrics) Routed(proto string, a dispatch.Affinity) {
	m.routed.WithLabelValues(proto, a.String()).Inc()
}

func (m *Metrics) Dropped(proto, reason string) {
	m.dispatchDropped.WithLabelValues(proto, reason).Inc()
}

// ObserveTick records one tick's duration and whether it overran.
func (m *Metrics) ObserveTick(loop string, took, interval time.Duration) {
	m.tickDuration.WithLabelValues(loop).Observe(took.Seconds())
	if interval > 0 && took > interval {
		m.longTicks.WithLabelValues(loop).Inc()
	}
}
