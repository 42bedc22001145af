// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bureau-foundation/erasure/lib/codec"
)

// ErrFetch marks a capture that produced no response: a timeout, a
// connection failure, or a capture service error.
var ErrFetch = errors.New("capture: fetch failed")

// maxHTMLBytes bounds how much of a page is kept.
const maxHTMLBytes = 4 << 20

// Artifact is one captured page.
type Artifact struct {
	URL         string
	StatusCode  int
	ContentType string
	HTML        []byte

	// Screenshot is a PNG, or nil when the backend cannot render.
	Screenshot []byte
}

// Capturer loads a page for evidence.
type Capturer interface {
	Capture(ctx context.Context, url string) (Artifact, error)
}

// FetchOnly captures with a plain GET.
type FetchOnly struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetchOnly returns a FetchOnly capturer that gives up after
// timeout. A nil client uses a default one.
func NewFetchOnly(client *http.Client, timeout time.Duration) *FetchOnly {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &FetchOnly{client: client, timeout: timeout}
}

func (f *FetchOnly) Capture(ctx context.Context, url string) (Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	request.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	response, err := f.client.Do(request)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, maxHTMLBytes))
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: reading body: %w", ErrFetch, err)
	}
	return Artifact{
		URL:         url,
		StatusCode:  response.StatusCode,
		ContentType: mediaType(response.Header.Get("Content-Type")),
		HTML:        body,
	}, nil
}

// captureRequest and captureResponse are the capture service's CBOR
// wire format.
type captureRequest struct {
	URL       string `cbor:"url"`
	TimeoutMS int64  `cbor:"timeout_ms"`
	FullPage  bool   `cbor:"full_page"`
}

type captureResponse struct {
	Status      int    `cbor:"status"`
	ContentType string `cbor:"content_type"`
	HTML        []byte `cbor:"html"`
	Screenshot  []byte `cbor:"screenshot"`
	Error       string `cbor:"error"`
}

// HTTPCapturerConfig configures an HTTPCapturer.
type HTTPCapturerConfig struct {
	// ServiceURL is the capture endpoint, e.g.
	// http://capture.internal:9222/capture.
	ServiceURL string

	// Timeout bounds one capture, rendering included. Defaults to 8s.
	Timeout time.Duration

	Client *http.Client
	Logger *slog.Logger
}

// HTTPCapturer captures through a remote rendering service.
type HTTPCapturer struct {
	serviceURL string
	timeout    time.Duration
	client     *http.Client
	logger     *slog.Logger
}

// NewHTTPCapturer validates cfg and returns an HTTPCapturer.
func NewHTTPCapturer(cfg HTTPCapturerConfig) (*HTTPCapturer, error) {
	if cfg.ServiceURL == "" {
		return nil, errors.New("capture: ServiceURL is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("capture: Logger is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Client == nil {
		// The service gets a little longer than the render budget so
		// its own timeout error arrives before ours.
		cfg.Client = &http.Client{Timeout: cfg.Timeout + time.Second}
	}
	return &HTTPCapturer{
		serviceURL: cfg.ServiceURL,
		timeout:    cfg.Timeout,
		client:     cfg.Client,
		logger:     cfg.Logger,
	}, nil
}

func (c *HTTPCapturer) Capture(ctx context.Context, url string) (Artifact, error) {
	body, err := codec.Marshal(captureRequest{
		URL:       url,
		TimeoutMS: c.timeout.Milliseconds(),
		FullPage:  true,
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("capture: encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout+time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, bytes.NewReader(body))
	if err != nil {
		return Artifact{}, fmt.Errorf("capture: %w", err)
	}
	request.Header.Set("Content-Type", "application/cbor")
	request.Header.Set("Accept", "application/cbor")

	response, err := c.client.Do(request)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: capture service: %w", ErrFetch, err)
	}
	defer response.Body.Close()
	data, err := io.ReadAll(io.LimitReader(response.Body, 4*maxHTMLBytes))
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: reading capture response: %w", ErrFetch, err)
	}
	if response.StatusCode != http.StatusOK {
		return Artifact{}, fmt.Errorf("%w: capture service returned %d", ErrFetch, response.StatusCode)
	}

	var captured captureResponse
	if err := codec.Unmarshal(data, &captured); err != nil {
		return Artifact{}, fmt.Errorf("%w: decoding capture response: %w", ErrFetch, err)
	}
	if captured.Error != "" {
		return Artifact{}, fmt.Errorf("%w: %s", ErrFetch, captured.Error)
	}
	c.logger.Debug("page captured",
		"url", url,
		"status", captured.Status,
		"html_bytes", len(captured.HTML),
		"screenshot_bytes", len(captured.Screenshot),
	)
	return Artifact{
		URL:         url,
		StatusCode:  captured.Status,
		ContentType: mediaType(captured.ContentType),
		HTML:        captured.HTML,
		Screenshot:  captured.Screenshot,
	}, nil
}

// mediaType strips parameters from a Content-Type value.
func mediaType(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}
