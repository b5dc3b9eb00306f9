package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/assistdrive-core/internal/service"
	"github.com/nerrad567/assistdrive-core/internal/sft"
)

const namespace = "assistdrive"

// Ensure Collector implements the metrics interfaces it is wired into.
var (
	_ service.Metrics = (*Collector)(nil)
	_ sft.Metrics     = (*Collector)(nil)
)

// Collector holds every exported metric.
type Collector struct {
	registry *prometheus.Registry

	linksOpen        *prometheus.GaugeVec
	linksTotal       *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	serviceFailures  *prometheus.CounterVec

	deviceFailures *prometheus.GaugeVec
	systemFailures *prometheus.GaugeVec
	systemOK       *prometheus.GaugeVec
	faultEvents    *prometheus.CounterVec
}

// New creates a Collector registered on a fresh registry, together with
// the Go runtime and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		linksOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fabric",
			Name:      "links_open",
			Help:      "Connections currently staged per service",
		}, []string{"service"}),

		linksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fabric",
			Name:      "links_total",
			Help:      "Connections staged per service since start",
		}, []string{"service"}),

		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fabric",
			Name:      "messages_received_total",
			Help:      "Messages delivered to OnReceive per service",
		}, []string{"service"}),

		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fabric",
			Name:      "message_bytes_received_total",
			Help:      "Message body bytes delivered to OnReceive per service",
		}, []string{"service"}),

		serviceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fabric",
			Name:      "service_failures_total",
			Help:      "Service run loops ended by an error or panic",
		}, []string{"service"}),

		deviceFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sft",
			Name:      "device_failures",
			Help:      "Outstanding failures per device",
		}, []string{"device"}),

		systemFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sft",
			Name:      "system_failures",
			Help:      "Outstanding device failures per vehicle system",
		}, []string{"system"}),

		systemOK: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sft",
			Name:      "system_ok",
			Help:      "1 when the vehicle system has no outstanding failure",
		}, []string{"system"}),

		faultEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sft",
			Name:      "events_total",
			Help:      "Suspension and SuspensionExit events emitted",
		}, []string{"kind", "system"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.linksOpen,
		c.linksTotal,
		c.messagesReceived,
		c.bytesReceived,
		c.serviceFailures,
		c.deviceFailures,
		c.systemFailures,
		c.systemOK,
		c.faultEvents,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// LinkOpened implements service.Metrics.
func (c *Collector) LinkOpened(svc string) {
	c.linksOpen.WithLabelValues(svc).Inc()
	c.linksTotal.WithLabelValues(svc).Inc()
}

// LinkClosed implements service.Metrics.
func (c *Collector) LinkClosed(svc string) {
	c.linksOpen.WithLabelValues(svc).Dec()
}

// MessageReceived implements service.Metrics.
func (c *Collector) MessageReceived(svc string, size int) {
	c.messagesReceived.WithLabelValues(svc).Inc()
	c.bytesReceived.WithLabelValues(svc).Add(float64(size))
}

// ServiceFailed implements service.Metrics.
func (c *Collector) ServiceFailed(svc string) {
	c.serviceFailures.WithLabelValues(svc).Inc()
}

// DeviceFailures implements sft.Metrics.
func (c *Collector) DeviceFailures(tag string, n int) {
	c.deviceFailures.WithLabelValues(tag).Set(float64(n))
}

// SystemFailures implements sft.Metrics.
func (c *Collector) SystemFailures(system string, n int) {
	c.systemFailures.WithLabelValues(system).Set(float64(n))
	ok := 0.0
	if n == 0 {
		ok = 1
	}
	c.systemOK.WithLabelValues(system).Set(ok)
}

// EventEmitted implements sft.Metrics.
func (c *Collector) EventEmitted(kind, system string) {
	c.faultEvents.WithLabelValues(kind, system).Inc()
}
