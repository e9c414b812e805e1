package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "feed"

var (
	counterDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "counter"),
		"Monotonic counters tracked by the feed service.",
		[]string{"name"}, nil,
	)
	gaugeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "gauge"),
		"Point-in-time values tracked by the feed service.",
		[]string{"name"}, nil,
	)
	timerCountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "timer", "count"),
		"Number of timed operations.",
		[]string{"name"}, nil,
	)
	timerTotalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "timer", "milliseconds_total"),
		"Total time spent in timed operations.",
		[]string{"name"}, nil,
	)
	healthDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "component_healthy"),
		"Component health (1 healthy, 0 unhealthy).",
		[]string{"component"}, nil,
	)
	uptimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "uptime_seconds"),
		"Seconds since the metrics collector started.",
		nil, nil,
	)
)

// Collector exposes a Metrics snapshot to prometheus
type Collector struct {
	metrics *Metrics
}

// NewCollector wraps m as a prometheus.Collector
func NewCollector(m *Metrics) *Collector {
	return &Collector{metrics: m}
}

// NewRegistry creates a registry with the feed collector registered
func NewRegistry(m *Metrics) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(m)); err != nil {
		return nil, err
	}
	return registry, nil
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- counterDesc
	ch <- gaugeDesc
	ch <- timerCountDesc
	ch <- timerTotalDesc
	ch <- healthDesc
	ch <- uptimeDesc
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, value := range c.metrics.GetCounters() {
		ch <- prometheus.MustNewConstMetric(counterDesc, prometheus.CounterValue, float64(value), name)
	}
	for name, value := range c.metrics.GetGauges() {
		ch <- prometheus.MustNewConstMetric(gaugeDesc, prometheus.GaugeValue, float64(value), name)
	}
	for name, timer := range c.metrics.GetTimers() {
		ch <- prometheus.MustNewConstMetric(timerCountDesc, prometheus.CounterValue, float64(timer.Count), name)
		ch <- prometheus.MustNewConstMetric(timerTotalDesc, prometheus.CounterValue, float64(timer.TotalTimeMs), name)
	}
	for component, healthy := range c.metrics.GetHealthChecks() {
		value := 0.0
		if healthy {
			value = 1
		}
		ch <- prometheus.MustNewConstMetric(healthDesc, prometheus.GaugeValue, value, component)
	}
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, float64(c.metrics.GetUptimeSeconds()))
}
