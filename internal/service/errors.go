package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when the document request fails validation.
	ErrInvalidRequest = errors.New("invalid document request")
	// ErrDocumentNotFound is returned when the upstream answers 404.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrConnectTimeout is returned when no connection to the upstream could be
	// established within the connect timeout.
	ErrConnectTimeout = errors.New("upstream connect timeout")
	// ErrReadTimeout is returned when the upstream stops sending within the
	// read timeout.
	ErrReadTimeout = errors.New("upstream read timeout")
	// ErrUpstreamUnavailable is returned for network failures other than timeouts.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// UpstreamStatusError carries a non-200, non-404 upstream answer.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}
