// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/bureau-foundation/erasure/lib/schema"
)

// SESClient is the part of the SES v2 API the email channel uses.
type SESClient interface {
	SendEmail(ctx context.Context, input *sesv2.SendEmailInput, options ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewSESClient builds an SES v2 client from the default credential
// chain. A non-empty endpoint overrides the service URL.
func NewSESClient(ctx context.Context, region, endpoint string) (*sesv2.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("channel: loading AWS config: %w", err)
	}
	return sesv2.NewFromConfig(cfg, func(options *sesv2.Options) {
		if endpoint != "" {
			options.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// EmailConfig configures an Email transport.
type EmailConfig struct {
	Client SESClient

	// From is the verified sender address.
	From string

	// Timeout bounds one send. Defaults to 8s.
	Timeout time.Duration

	Logger *slog.Logger
}

// Email sends submissions to the controller's privacy address.
type Email struct {
	client  SESClient
	from    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewEmail returns an Email transport.
func NewEmail(cfg EmailConfig) (*Email, error) {
	if cfg.Client == nil {
		return nil, errors.New("channel: SES Client is required")
	}
	if cfg.From == "" {
		return nil, errors.New("channel: From is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("channel: Logger is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Email{client: cfg.Client, from: cfg.From, timeout: cfg.Timeout, logger: cfg.Logger}, nil
}

// Submit sends one plain-text message. The subject's email, when
// present, is set as Reply-To so the controller answers the data
// principal directly.
func (e *Email) Submit(ctx context.Context, submission Submission) (Result, error) {
	to := submission.Controller.PrivacyEmail
	if to == "" {
		return Result{}, &DeliveryError{Channel: schema.ChannelEmail, Err: errors.New("controller has no privacy email")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(messageSubject(submission))},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(messageBody(submission))},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("job_id"), Value: aws.String(submission.JobID)},
		},
	}
	if replyTo := submission.Request.Subject.Email; replyTo != "" {
		input.ReplyToAddresses = []string{replyTo}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	output, err := e.client.SendEmail(ctx, input)
	if err != nil {
		return Result{}, classifySESError(err)
	}

	result := Result{Channel: schema.ChannelEmail}
	if output != nil && output.MessageId != nil {
		result.ProviderRef = *output.MessageId
	}
	e.logger.Debug("email submitted",
		"job_id", submission.JobID,
		"controller_key", submission.Controller.Key,
		"message_id", result.ProviderRef,
	)
	return result, nil
}

// classifySESError treats client faults as rejections, except
// throttling, and everything else as transient.
func classifySESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		var throttled *types.TooManyRequestsException
		var limited *types.LimitExceededException
		if apiErr.ErrorFault() == smithy.FaultClient && !errors.As(err, &throttled) && !errors.As(err, &limited) {
			return &DeliveryError{Channel: schema.ChannelEmail, Err: err}
		}
	}
	return &DeliveryError{Channel: schema.ChannelEmail, Transient: true, Err: err}
}
