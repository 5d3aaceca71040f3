// Package service implements the document forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"filenet-proxy/internal/client"
	"filenet-proxy/internal/config"
	"filenet-proxy/internal/metrics"
	"filenet-proxy/internal/model"
)

// maxErrorBody caps how much of an upstream error body is echoed back.
const maxErrorBody = 4 << 10

// APIKeyHeader carries the upstream credential.
const APIKeyHeader = "x-api-key"

// Getter performs a single upstream GET.
type Getter interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*model.DocumentResponse, error)
}

// DocumentService forwards document lookups to the upstream API.
type DocumentService struct {
	client    Getter
	apiKey    string
	userAgent string
	logger    *slog.Logger
	baseURL   *url.URL
}

// NewDocumentService creates a DocumentService. The upstream client is
// usually a *client.DocumentClient.
func NewDocumentService(c Getter, cfg *config.Config, logger *slog.Logger, version string) (*DocumentService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &DocumentService{
		client:    c,
		apiKey:    cfg.Upstream.APIKey,
		userAgent: "filenet-proxy/" + version,
		logger:    logger.With("component", "document_service"),
		baseURL:   u,
	}, nil
}

// Fetch retrieves one document. On success the caller owns resp.Body.
// Exactly one upstream request is made per call.
func (s *DocumentService) Fetch(ctx context.Context, req model.DocumentRequest) (*model.DocumentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	s.logger.Debug("forwarding document request", "id", req.IDFilenet)

	resp, err := s.client.Get(ctx, s.buildUpstreamURL(req.IDFilenet), s.upstreamHeader())
	if err != nil {
		return nil, translateCallError(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if resp.ContentType == "" {
			resp.ContentType = model.DefaultContentType
		}
		return resp, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, req.IDFilenet)
	default:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		if readErr != nil {
			s.logger.Warn("reading upstream error body", "err", readErr, "status", resp.StatusCode)
		}
		return nil, &UpstreamStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
}

// buildUpstreamURL appends id to the base path as a single escaped segment,
// so an id containing '/' or '?' never adds segments or a query.
func (s *DocumentService) buildUpstreamURL(id string) string {
	u := *s.baseURL
	escapedBase := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/" + id
	u.RawPath = escapedBase + "/" + url.PathEscape(id)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func (s *DocumentService) upstreamHeader() http.Header {
	h := make(http.Header)
	h.Set(APIKeyHeader, s.apiKey)
	h.Set("Accept", "*/*")
	h.Set("User-Agent", s.userAgent)
	return h
}

// translateCallError maps a transport failure onto the service error taxonomy.
func translateCallError(err error) error {
	var ce *client.CallError
	if !errors.As(err, &ce) {
		return fmt.Errorf("forward to upstream: %w", err)
	}
	switch ce.Kind {
	case metrics.KindConnectTimeout:
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	case metrics.KindReadTimeout:
		return fmt.Errorf("%w: %w", ErrReadTimeout, err)
	case metrics.KindConnection:
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	default:
		return fmt.Errorf("forward to upstream: %w", err)
	}
}
