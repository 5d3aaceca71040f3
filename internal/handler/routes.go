package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"filenet-proxy/internal/config"
	"filenet-proxy/internal/metrics"
)

// DocumentPath is the route of the document lookup endpoint.
const DocumentPath = "/api/v1/filenet/documento"

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, doc *DocumentHandler, health *HealthHandler) {
	e.GET("/", health.Root)
	e.GET("/health", health.Health)

	e.POST(DocumentPath, doc.Fetch)
}

// RegisterMetricsRoute exposes the Prometheus registry when metrics are enabled.
func RegisterMetricsRoute(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
