package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"

	"filenet-proxy/internal/metrics"
)

// findSeries returns the first series of the named family whose labels
// include every pair in want.
func findSeries(t *testing.T, m *metrics.Metrics, name string, want map[string]string) *dto.Metric {
	t.Helper()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			match := true
			for k, v := range want {
				if labels[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric
			}
		}
	}
	return nil
}

func TestMetricsMiddleware_CountsDocumentRequests(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.POST("/api/v1/filenet/documento", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/pdf", []byte("%PDF"))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/filenet/documento", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	series := findSeries(t, m, "filenet_proxy_http_requests_total", map[string]string{
		"method":      "POST",
		"status_code": "200",
		"path_prefix": "/api/v1/filenet",
	})
	if series == nil {
		t.Fatal("expected filenet_proxy_http_requests_total with path_prefix=/api/v1/filenet")
	}
	if v := series.GetCounter().GetValue(); v != 1 {
		t.Errorf("counter value = %v, want 1", v)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	series := findSeries(t, m, "filenet_proxy_http_request_duration_seconds", map[string]string{"path_prefix": "/health"})
	if series == nil || series.GetHistogram().GetSampleCount() == 0 {
		t.Error("expected filenet_proxy_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.POST("/api/v1/filenet/documento", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too large")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/filenet/documento", http.NoBody))

	series := findSeries(t, m, "filenet_proxy_http_requests_total", map[string]string{
		"path_prefix": "/api/v1/filenet",
		"status_code": "413",
	})
	if series == nil {
		t.Error("expected filenet_proxy_http_requests_total with status_code=413")
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/api/v1/filenet/documento", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("XYZZY", "/api/v1/filenet/documento", http.NoBody))

	series := findSeries(t, m, "filenet_proxy_http_requests_total", map[string]string{
		"path_prefix": "/api/v1/filenet",
		"method":      "other",
	})
	if series == nil {
		t.Error("expected filenet_proxy_http_requests_total with method=other")
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(MetricsMiddleware(m))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	series := findSeries(t, m, "filenet_proxy_http_requests_total", map[string]string{
		"method":      "GET",
		"status_code": "404",
	})
	if series == nil {
		t.Error("expected filenet_proxy_http_requests_total with method=GET, status_code=404")
	}
}
