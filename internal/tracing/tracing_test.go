package tracing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"filenet-proxy/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_DisabledIsNoop(t *testing.T) {
	p, err := New(context.Background(), config.TracingConfig{}, "test", discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, ok := p.TracerProvider.(noop.TracerProvider); !ok {
		t.Errorf("TracerProvider = %T, want noop.TracerProvider", p.TracerProvider)
	}
	if !slices.Contains(p.Propagator.Fields(), "traceparent") {
		t.Errorf("propagator fields = %v, want traceparent", p.Propagator.Fields())
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_UnsupportedProtocol(t *testing.T) {
	_, err := New(context.Background(), config.TracingConfig{
		Enabled:     true,
		Protocol:    "zipkin",
		ServiceName: "filenet-proxy",
		SampleRatio: 1,
	}, "test", discardLogger())
	if err == nil || !strings.Contains(err.Error(), "zipkin") {
		t.Fatalf("New() error = %v, want unsupported protocol naming zipkin", err)
	}
}

func TestNew_HTTPExporterFlushesOnShutdown(t *testing.T) {
	var exports atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" && r.Method == http.MethodPost {
			exports.Add(1)
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	p, err := New(context.Background(), config.TracingConfig{
		Enabled:     true,
		Protocol:    "http/protobuf",
		Endpoint:    collector.URL + "/v1/traces",
		ServiceName: "filenet-proxy",
		SampleRatio: 1,
	}, "test", discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "fetch document")
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if exports.Load() < 1 {
		t.Errorf("collector received %d exports, want at least 1", exports.Load())
	}
}

func TestNew_GRPCExporterCreatesLazily(t *testing.T) {
	p, err := New(context.Background(), config.TracingConfig{
		Enabled:     true,
		Protocol:    "grpc",
		Endpoint:    "http://127.0.0.1:4317",
		ServiceName: "filenet-proxy",
		SampleRatio: 0.5,
	}, "test", discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
