// Package client provides the upstream HTTP client for the document API.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"filenet-proxy/internal/config"
	"filenet-proxy/internal/metrics"
	"filenet-proxy/internal/model"
)

// dialFunc matches net.Dialer.DialContext.
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// CallError is returned when the upstream produced no usable response.
// Kind is one of the metrics.Kind* constants.
type CallError struct {
	Kind string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// errBodyIdle is reported when no body bytes arrive within the read timeout.
var errBodyIdle = errors.New("no data received within read timeout")

// Options carries optional collaborators for the client.
type Options struct {
	Metrics        *metrics.Metrics
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
}

// DocumentClient sends requests to the upstream document API. Every call is
// a single attempt: redirects are not followed and nothing is retried.
type DocumentClient struct {
	httpClient  *http.Client
	readTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewDocumentClient creates a DocumentClient with connection pooling, a
// connect timeout covering dial and TLS handshake, and a read timeout
// covering response headers and idle gaps in the body.
func NewDocumentClient(cfg *config.Config, logger *slog.Logger, opts Options) *DocumentClient {
	dialer := &net.Dialer{
		Timeout:   cfg.Upstream.ConnectTimeout(),
		KeepAlive: 30 * time.Second,
	}
	return newDocumentClient(cfg, logger, opts, dialer.DialContext)
}

func newDocumentClient(cfg *config.Config, logger *slog.Logger, opts Options, dial dialFunc) *DocumentClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dial,
		TLSHandshakeTimeout:   cfg.Upstream.ConnectTimeout(),
		ResponseHeaderTimeout: cfg.Upstream.ReadTimeout(),
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	prop := opts.Propagator
	if prop == nil {
		prop = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}

	return &DocumentClient{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithPropagators(prop),
			),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		readTimeout: cfg.Upstream.ReadTimeout(),
		logger:      logger.With("component", "document_client"),
		metrics:     opts.Metrics,
	}
}

// Get issues one GET to rawURL. The returned body is guarded by the read
// timeout and must be closed by the caller. Canceling ctx (e.g. the inbound
// client disconnecting) abandons the upstream call.
func (c *DocumentClient) Get(ctx context.Context, rawURL string, header http.Header) (*model.DocumentResponse, error) {
	ctx, cancel := context.WithCancel(ctx)

	var connected atomic.Bool
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { connected.Store(true) },
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request", "path", req.URL.Path)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via DocumentResponse
	duration := time.Since(start).Seconds()

	if err != nil {
		cancel()
		kind := classify(err, connected.Load())
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues("error").Observe(duration)
			c.metrics.UpstreamErrors.WithLabelValues(kind).Inc()
		}
		return nil, &CallError{Kind: kind, Err: err}
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues("response").Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.DocumentResponse{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          newIdleTimeoutBody(resp.Body, c.readTimeout, cancel, c.metrics),
	}, nil
}

// classify maps a transport failure to an error kind. A failure before a
// connection was obtained belongs to the connect phase.
func classify(err error, connected bool) string {
	if errors.Is(err, context.Canceled) {
		return metrics.KindOther
	}
	if isTimeout(err) {
		if connected {
			return metrics.KindReadTimeout
		}
		return metrics.KindConnectTimeout
	}
	return metrics.KindConnection
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// idleTimeoutBody cancels the upstream request when no Read completes
// within timeout, and reports that as a read timeout.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
	metrics *metrics.Metrics
	once    sync.Once
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc, m *metrics.Metrics) *idleTimeoutBody {
	b := &idleTimeoutBody{rc: rc, timeout: timeout, cancel: cancel, metrics: m}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		cancel()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if b.expired.Load() {
		b.once.Do(func() {
			if b.metrics != nil {
				b.metrics.UpstreamErrors.WithLabelValues(metrics.KindReadTimeout).Inc()
			}
		})
		return n, &CallError{Kind: metrics.KindReadTimeout, Err: errBodyIdle}
	}
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.rc.Close()
	b.cancel()
	return err
}
