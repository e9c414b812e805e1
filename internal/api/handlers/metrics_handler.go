package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/backstage/feed/internal/metrics"
	"example.com/backstage/feed/internal/tracing"
)

// MetricsHandler handles metrics-related HTTP requests
type MetricsHandler struct {
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	tracer   tracing.Tracer
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(m *metrics.Metrics, registry *prometheus.Registry, tracer tracing.Tracer) *MetricsHandler {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &MetricsHandler{
		metrics:  m,
		registry: registry,
		tracer:   tracer,
	}
}

// HandleGetMetrics returns all metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	txn := h.tracer.StartTransaction("get-metrics")
	defer h.tracer.EndTransaction(txn)

	h.metrics.SetGauge(metrics.GaugeGoroutines, int64(runtime.NumGoroutine()))

	c.JSON(http.StatusOK, h.metrics.GetAllMetrics())
}

// HandleGetHealthCheck returns ok unless a registered component reports unhealthy
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	checks := h.metrics.GetHealthChecks()

	healthy := true
	for _, ok := range checks {
		if !ok {
			healthy = false
			break
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "details": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "details": checks})
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/health", h.HandleGetHealthCheck)
	if h.registry != nil {
		router.GET("/metrics/prometheus", gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))
	}
}
