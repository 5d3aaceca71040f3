package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"filenet-proxy/internal/metrics"
	"filenet-proxy/internal/model"
	"filenet-proxy/internal/service"
)

// relayChunkSize is the size of each chunk copied from upstream to the caller.
const relayChunkSize = 8 << 10

// Fetcher retrieves documents from the upstream.
type Fetcher interface {
	Fetch(ctx context.Context, req model.DocumentRequest) (*model.DocumentResponse, error)
}

// DocumentHandler serves document lookups.
type DocumentHandler struct {
	service Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDocumentHandler creates a DocumentHandler. m may be nil.
func NewDocumentHandler(svc *service.DocumentService, logger *slog.Logger, m *metrics.Metrics) *DocumentHandler {
	return newDocumentHandler(svc, logger, m)
}

func newDocumentHandler(f Fetcher, logger *slog.Logger, m *metrics.Metrics) *DocumentHandler {
	return &DocumentHandler{
		service: f,
		logger:  logger.With("component", "document_handler"),
		metrics: m,
	}
}

// errorBody is the JSON error envelope returned to callers.
type errorBody struct {
	Detail string `json:"detail"`
}

// Fetch decodes {"idFilenet": "..."} and relays the upstream document.
func (h *DocumentHandler) Fetch(c echo.Context) error {
	var req model.DocumentRequest
	if err := c.Echo().JSONSerializer.Deserialize(c, &req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorBody{Detail: "request body must be a JSON object with an idFilenet string"})
	}

	resp, err := h.service.Fetch(c.Request().Context(), req)
	if err != nil {
		return h.mapError(c, req.IDFilenet, err)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, resp.ContentType)
	header.Set(echo.HeaderContentDisposition, model.Disposition(req.IDFilenet))
	if resp.ContentLength >= 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(resp.ContentLength, 10))
	}
	c.Response().WriteHeader(http.StatusOK)

	n, err := h.relay(c.Response(), resp)
	if h.metrics != nil {
		h.metrics.RelayedBytes.Add(float64(n))
	}
	if err != nil {
		h.logger.Error("relaying document body",
			"err", err,
			"id", req.IDFilenet,
			"bytes", n,
		)
		// The 200 is already on the wire. Aborting drops the connection
		// without the final chunk, so the caller sees a failed transfer
		// instead of a complete-looking truncated document.
		panic(http.ErrAbortHandler)
	}

	return nil
}

// relay copies the upstream body in fixed-size chunks, flushing after each
// chunk so memory per request stays bounded.
func (h *DocumentHandler) relay(w *echo.Response, resp *model.DocumentResponse) (int64, error) {
	buf := make([]byte, relayChunkSize)
	var written int64
	for {
		nr, rerr := resp.Body.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("write to client: %w", werr)
			}
			w.Flush()
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, fmt.Errorf("read from upstream: %w", rerr)
		}
	}
}

func (h *DocumentHandler) mapError(c echo.Context, id string, err error) error {
	status, detail := errorStatus(id, err)

	attrs := []any{"err", err, "id", id, "status", status}
	switch {
	case errors.Is(err, context.Canceled):
		h.logger.Info("client disconnected before upstream answered", attrs...)
	case status >= http.StatusInternalServerError:
		h.logger.Error("document request failed", attrs...)
	default:
		h.logger.Warn("document request rejected", attrs...)
	}

	return c.JSON(status, errorBody{Detail: detail})
}

// errorStatus maps a service error to the caller-facing status and detail.
func errorStatus(id string, err error) (int, string) {
	var se *service.UpstreamStatusError
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, service.ErrDocumentNotFound):
		return http.StatusNotFound, fmt.Sprintf("document with ID %s not found", id)
	case errors.As(err, &se):
		return se.StatusCode, fmt.Sprintf("upstream API error (status %d): %s", se.StatusCode, se.Body)
	case errors.Is(err, service.ErrConnectTimeout):
		return http.StatusServiceUnavailable, "timed out connecting to the upstream API"
	case errors.Is(err, service.ErrReadTimeout):
		return http.StatusGatewayTimeout, "timed out waiting for the upstream API"
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "could not connect to the upstream API"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
