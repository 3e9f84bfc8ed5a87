// Package gateway validates document identifiers and streams document bytes
// from the upstream document store. It knows nothing about chat.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const fetchTimeout = 30 * time.Second

var (
	// ErrInvalidIdentifier marks identifiers rejected before any upstream call.
	ErrInvalidIdentifier = errors.New("invalid document identifier")

	// ErrUpstreamUnavailable covers transport failures, timeouts and
	// non-success statuses from the document store.
	ErrUpstreamUnavailable = errors.New("document store unavailable")
)

// ValidateFilename enforces the retrieval security boundary: the identifier
// must name a single PDF inside the store, never a path. It runs before any
// upstream call is made.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: filename required", ErrInvalidIdentifier)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return fmt.Errorf("%w: %q is not a pdf", ErrInvalidIdentifier, name)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q contains a path segment", ErrInvalidIdentifier, name)
	}
	return nil
}

// Document is one streamed fetch result. The caller owns Body and must close it.
type Document struct {
	Name          string
	ContentLength int64
	Body          io.ReadCloser
}

// Fetcher proxies documents from the store's download webhook. It holds no
// state across calls and is safe for concurrent use.
type Fetcher struct {
	downloadURL string
	client      *http.Client
	logger      *log.Logger
}

func NewFetcher(downloadURL string, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.Default()
	}

	return &Fetcher{
		downloadURL: strings.TrimRight(downloadURL, "/"),
		client: &http.Client{
			Timeout: fetchTimeout,
		},
		logger: logger,
	}
}

// Fetch validates the identifier and issues exactly one retrieval call, with
// the identifier URL-escaped exactly once.
func (f *Fetcher) Fetch(ctx context.Context, name string) (*Document, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, err
	}

	addr := f.downloadURL + "?file=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Printf("document fetch failed for %s: %v", name, err)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		f.logger.Printf("document store returned %s for %s", resp.Status, name)
		return nil, fmt.Errorf("%w: status %s", ErrUpstreamUnavailable, resp.Status)
	}

	return &Document{
		Name:          name,
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}
