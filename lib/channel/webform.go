// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/erasure/lib/schema"
)

// maxResponseBody bounds how much of a form response is read.
const maxResponseBody = 64 << 10

// WebformConfig configures a Webform transport.
type WebformConfig struct {
	// Client defaults to an http.Client with Timeout.
	Client *http.Client

	// Timeout bounds one submission. Defaults to 8s.
	Timeout time.Duration

	UserAgent string
	Logger    *slog.Logger
}

// Webform posts submissions to a controller's privacy form as
// application/x-www-form-urlencoded.
type Webform struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
}

// NewWebform returns a Webform transport.
func NewWebform(cfg WebformConfig) (*Webform, error) {
	if cfg.Logger == nil {
		return nil, errors.New("channel: Logger is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "erasure-dispatch/1"
	}
	return &Webform{
		client:    cfg.Client,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
	}, nil
}

// Submit posts the form. A 2xx or 3xx response is success; 408, 429
// and 5xx are transient; other 4xx are rejections.
func (w *Webform) Submit(ctx context.Context, submission Submission) (Result, error) {
	target := submission.TargetURL
	if target == "" {
		return Result{}, &DeliveryError{Channel: schema.ChannelWebform, Err: errors.New("no form URL")}
	}
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Result{}, &DeliveryError{Channel: schema.ChannelWebform, Err: fmt.Errorf("invalid form URL %q", target)}
	}

	subject := submission.Request.Subject
	form := url.Values{}
	form.Set("request_type", "erasure")
	form.Set("subject", messageSubject(submission))
	form.Set("message", messageBody(submission))
	form.Set("reference", submission.JobID)
	for key, value := range map[string]string{
		"name":   subject.Name,
		"email":  subject.Email,
		"phone":  subject.Phone,
		"handle": subject.Handle,
		"locale": submission.Request.Locale,
	} {
		if value != "" {
			form.Set(key, value)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, &DeliveryError{Channel: schema.ChannelWebform, Err: err}
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("User-Agent", w.userAgent)

	response, err := w.client.Do(request)
	if err != nil {
		return Result{}, &DeliveryError{Channel: schema.ChannelWebform, Transient: true, Err: err}
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBody))

	w.logger.Debug("webform submitted",
		"job_id", submission.JobID,
		"controller_key", submission.Controller.Key,
		"status", response.StatusCode,
	)

	status := response.StatusCode
	switch {
	case status >= 200 && status < 400:
		return Result{Channel: schema.ChannelWebform, StatusCode: status}, nil
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return Result{}, &DeliveryError{
			Channel:    schema.ChannelWebform,
			StatusCode: status,
			Transient:  true,
			Err:        errors.New(http.StatusText(status)),
		}
	default:
		return Result{}, &DeliveryError{
			Channel:    schema.ChannelWebform,
			StatusCode: status,
			Err:        errors.New(http.StatusText(status)),
		}
	}
}
