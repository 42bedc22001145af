// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/erasure/lib/api"
	"github.com/bureau-foundation/erasure/lib/blobstore"
	"github.com/bureau-foundation/erasure/lib/breaker"
	"github.com/bureau-foundation/erasure/lib/capture"
	"github.com/bureau-foundation/erasure/lib/channel"
	"github.com/bureau-foundation/erasure/lib/clock"
	"github.com/bureau-foundation/erasure/lib/config"
	"github.com/bureau-foundation/erasure/lib/controller"
	"github.com/bureau-foundation/erasure/lib/deadletter"
	"github.com/bureau-foundation/erasure/lib/dispatch"
	"github.com/bureau-foundation/erasure/lib/idempotency"
	"github.com/bureau-foundation/erasure/lib/jobqueue"
	"github.com/bureau-foundation/erasure/lib/ledger"
	"github.com/bureau-foundation/erasure/lib/receipt"
	"github.com/bureau-foundation/erasure/lib/schema"
	"github.com/bureau-foundation/erasure/lib/sealed"
	"github.com/bureau-foundation/erasure/lib/signing"
	"github.com/bureau-foundation/erasure/lib/store"
	"github.com/bureau-foundation/erasure/lib/sweep"
)

// Key file names inside paths.keys.
const (
	SubjectIdentityFile = "subject.agekey"
	BlobKeyFile         = "blob.key"
)

// Options holds what Open needs besides the config.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// KMS replaces the client built from signing.kms_region when the
	// signing backend is kms. Tests inject a fake.
	KMS signing.KMSClient

	// SES replaces the client built from email.region. Tests inject a
	// fake.
	SES channel.SESClient
}

// Components is the assembled pipeline.
type Components struct {
	Config      *config.Config
	Store       *store.Store
	Blobs       *blobstore.Store
	Controllers *controller.Table

	Guard       *idempotency.Guard
	Breaker     *breaker.Breaker
	Queue       *jobqueue.Queue
	DeadLetters *deadletter.Queue
	Retrier     *deadletter.Retrier
	Dispatcher  *dispatch.Dispatcher
	Executor    *dispatch.Executor
	Pool        *jobqueue.Pool
	Sweeper     *sweep.Sweeper
	Keys        *signing.Keyring
	Ledger      *ledger.Ledger
	Receipts    *receipt.Verifier

	// Signer is nil when no signing key is available.
	Signer signing.Signer

	logger  *slog.Logger
	closers []func() error
}

// Open wires every component. cfg must already be validated. Close
// releases the store, the blob key and the signer.
func Open(ctx context.Context, cfg *config.Config, options Options) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if options.Logger == nil {
		return nil, errors.New("bootstrap: Logger is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	c := &Components{Config: cfg, logger: options.Logger}
	if err := c.open(ctx, options); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) open(ctx context.Context, options Options) error {
	cfg := c.Config
	logger := options.Logger
	clk := options.Clock

	sealer, err := sealed.LoadOrGenerate(filepath.Join(cfg.Paths.Keys, SubjectIdentityFile))
	if err != nil {
		return fmt.Errorf("bootstrap: loading subject identity: %w", err)
	}
	c.Store, err = store.Open(store.Config{
		Path:   cfg.Paths.Database,
		Sealer: sealer,
		Logger: logger.With("component", "store"),
	})
	if err != nil {
		sealer.Close()
		return fmt.Errorf("bootstrap: %w", err)
	}
	c.closers = append(c.closers, sealer.Close, c.Store.Close)

	blobKeyPath := filepath.Join(cfg.Paths.Keys, BlobKeyFile)
	if _, err := os.Stat(blobKeyPath); errors.Is(err, fs.ErrNotExist) {
		if err := blobstore.GenerateKeyFile(blobKeyPath); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		logger.Info("generated blob encryption key", "path", blobKeyPath)
	}
	blobKey, err := blobstore.LoadKeyFile(blobKeyPath)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	c.Blobs, err = blobstore.Open(blobstore.Config{
		Root:      cfg.Paths.Blobs,
		MasterKey: blobKey,
		Logger:    logger.With("component", "blobstore"),
	})
	if err != nil {
		blobKey.Close()
		return fmt.Errorf("bootstrap: %w", err)
	}
	c.closers = append(c.closers, c.Blobs.Close)

	if cfg.Controllers.Overrides != "" {
		c.Controllers, err = controller.Load(cfg.Controllers.Overrides)
	} else {
		c.Controllers, err = controller.Defaults()
	}
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	c.Guard, err = idempotency.NewGuard(idempotency.Config{
		Store:       c.Store.Idempotency,
		Clock:       clk,
		TTL:         cfg.Idempotency.TTL,
		LabelTTLs:   cfg.Idempotency.LabelTTLs,
		AtLeastOnce: cfg.Idempotency.AtLeastOnce,
		Logger:      logger.With("component", "idempotency"),
	})
	if err != nil {
		return err
	}
	c.Breaker, err = breaker.New(breaker.Config{
		Store:       c.Store.Breakers,
		Clock:       clk,
		Controllers: c.Controllers,
		Threshold:   cfg.Breaker.Threshold,
		Window:      cfg.Breaker.Window,
		CoolDown:    cfg.Breaker.CoolDown,
		MaxCoolDown: cfg.Breaker.MaxCoolDown,
		Logger:      logger.With("component", "breaker"),
	})
	if err != nil {
		return err
	}
	c.Queue, err = jobqueue.New(jobqueue.Config{
		Store:       c.Store.Jobs,
		Clock:       clk,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     jobqueue.DefaultBackoff(),
		Logger:      logger.With("component", "jobqueue"),
	})
	if err != nil {
		return err
	}
	c.DeadLetters, err = deadletter.New(deadletter.Config{
		Store:  c.Store.DeadLetters,
		Clock:  clk,
		Logger: logger.With("component", "deadletter"),
	})
	if err != nil {
		return err
	}
	c.Dispatcher, err = dispatch.New(dispatch.Config{
		Guard:        c.Guard,
		Breaker:      c.Breaker,
		Queue:        c.Queue,
		Actions:      c.Store.Actions,
		DeadLetters:  c.DeadLetters,
		Controllers:  c.Controllers,
		Clock:        clk,
		InitialDelay: cfg.Sweep.InitialDelay,
		Logger:       logger.With("component", "dispatch"),
	})
	if err != nil {
		return err
	}
	c.Retrier, err = deadletter.NewRetrier(deadletter.RetrierConfig{
		Queue:      c.DeadLetters,
		Dispatcher: c.Dispatcher,
		Clock:      clk,
		Pause:      cfg.DeadLetter.Pause,
		Logger:     logger.With("component", "deadletter"),
	})
	if err != nil {
		return err
	}

	transports, err := c.transports(ctx, options)
	if err != nil {
		return err
	}
	c.Executor, err = dispatch.NewExecutor(dispatch.ExecutorConfig{
		Controllers: c.Controllers,
		Transports:  transports,
		Breaker:     c.Breaker,
		Actions:     c.Store.Actions,
		Clock:       clk,
		Logger:      logger.With("component", "executor"),
	})
	if err != nil {
		return err
	}
	c.Pool, err = jobqueue.NewPool(jobqueue.PoolConfig{
		Queue:        c.Queue,
		Executor:     c.Executor,
		Clock:        clk,
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
		JobTimeout:   cfg.Queue.JobTimeout,
		LeaseTimeout: cfg.Queue.LeaseTimeout,
		ReapInterval: cfg.Queue.ReapInterval,
		OnTerminal:   c.Dispatcher.HandleTerminal,
		Logger:       logger.With("component", "pool"),
	})
	if err != nil {
		return err
	}

	capturer, err := c.capturer(logger)
	if err != nil {
		return err
	}
	c.Sweeper, err = sweep.New(sweep.Config{
		Actions:         c.Store.Actions,
		Verifications:   c.Store.Verifications,
		Receipts:        c.Store.Receipts,
		Discovery:       c.Store.Discovery,
		Blobs:           c.Blobs,
		Capturer:        capturer,
		Clock:           clk,
		FanOut:          cfg.Sweep.FanOut,
		Pause:           cfg.Sweep.Pause,
		RetryInterval:   cfg.Sweep.RetryInterval,
		RecheckInterval: cfg.Sweep.RecheckInterval,
		Logger:          logger.With("component", "sweep"),
	})
	if err != nil {
		return err
	}

	if err := c.openSigning(ctx, options); err != nil {
		return err
	}
	c.Ledger, err = ledger.New(ledger.Config{
		Verifications: c.Store.Verifications,
		Records:       c.Store.Ledger,
		Keys:          c.Keys,
		Signer:        c.Signer,
		Clock:         clk,
		Logger:        logger.With("component", "ledger"),
	})
	if err != nil {
		return err
	}
	c.Receipts, err = receipt.NewVerifier(c.Store.Receipts, c.Blobs, logger.With("component", "receipt"))
	return err
}

func (c *Components) transports(ctx context.Context, options Options) (*channel.Router, error) {
	cfg := c.Config
	webform, err := channel.NewWebform(channel.WebformConfig{
		Timeout: cfg.Queue.JobTimeout,
		Logger:  options.Logger.With("component", "webform"),
	})
	if err != nil {
		return nil, err
	}
	transports := map[schema.Channel]channel.Transport{
		schema.ChannelWebform: webform,
		schema.ChannelNoop:    channel.Noop{},
	}

	if cfg.Email.From != "" {
		client := options.SES
		if client == nil {
			sesClient, err := channel.NewSESClient(ctx, cfg.Email.Region, cfg.Email.Endpoint)
			if err != nil {
				return nil, fmt.Errorf("bootstrap: %w", err)
			}
			client = sesClient
		}
		email, err := channel.NewEmail(channel.EmailConfig{
			Client:  client,
			From:    cfg.Email.From,
			Timeout: cfg.Queue.JobTimeout,
			Logger:  options.Logger.With("component", "email"),
		})
		if err != nil {
			return nil, err
		}
		transports[schema.ChannelEmail] = email
	} else {
		options.Logger.Info("email channel disabled: email.from is empty")
	}
	return channel.NewRouter(transports), nil
}

func (c *Components) capturer(logger *slog.Logger) (capture.Capturer, error) {
	cfg := c.Config
	if cfg.Capture.ServiceURL == "" {
		logger.Info("capture service not configured, verification runs without screenshots")
		return capture.NewFetchOnly(nil, cfg.Sweep.FetchTimeout), nil
	}
	return capture.NewHTTPCapturer(capture.HTTPCapturerConfig{
		ServiceURL: cfg.Capture.ServiceURL,
		Timeout:    cfg.Sweep.FetchTimeout,
		Logger:     logger.With("component", "capture"),
	})
}

func (c *Components) openSigning(ctx context.Context, options Options) error {
	cfg := c.Config.Signing
	algorithm, err := signing.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	switch cfg.Backend {
	case "kms":
		client := options.KMS
		if client == nil {
			kmsClient, err := signing.NewKMSClient(ctx, cfg.KMSRegion, cfg.KMSEndpoint)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			client = kmsClient
		}
		c.Keys = signing.NewKeyring(c.Config.Paths.Keys, client)
		signer, err := signing.NewKMS(client, cfg.KMSKey, algorithm)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		c.Signer = signer

	default:
		c.Keys = signing.NewKeyring(c.Config.Paths.Keys, nil)
		signer, err := signing.OpenLocal(c.Config.Paths.Keys, cfg.KeyID, algorithm)
		if errors.Is(err, signing.ErrMissingKeyMaterial) {
			options.Logger.Warn("ledger signing key not found, ledger is verify-only",
				"key_id", cfg.KeyID, "key_dir", c.Config.Paths.Keys, "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		c.closers = append(c.closers, signer.Close)
		c.Signer = signer
	}

	// A KMS public key fetch can fail transiently at startup; the
	// keyring fetches it again on first verification.
	public, err := c.Signer.PublicKey(ctx)
	if err != nil {
		options.Logger.Warn("reading signer public key", "key_id", c.Signer.KeyID(), "error", err)
		return nil
	}
	c.Keys.Add(c.Signer.KeyID(), public)
	return nil
}

// API builds the HTTP API over the components.
func (c *Components) API(clk clock.Clock) (*api.API, error) {
	return api.New(api.Config{
		Dispatcher:  c.Dispatcher,
		DeadLetters: c.DeadLetters,
		Retrier:     c.Retrier,
		Breakers:    c.Breaker,
		Jobs:        c.Queue,
		Ledger:      c.Ledger,
		Receipts:    c.Receipts,
		Discovery:   c.Store.Discovery,
		Clock:       clk,
		CORSOrigins: c.Config.HTTP.CORSOrigins,
		Logger:      c.logger.With("component", "api"),
	})
}

// Close releases everything Open acquired, newest first.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}
