// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment is the deployment type.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// EnvVar names the environment variable Load reads.
const EnvVar = "ERASURE_CONFIG"

// Config is the complete service configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths       PathsConfig       `yaml:"paths"`
	Queue       QueueConfig       `yaml:"queue"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Sweep       SweepConfig       `yaml:"sweep"`
	DeadLetter  DeadLetterConfig  `yaml:"dead_letter"`
	Signing     SigningConfig     `yaml:"signing"`
	Email       EmailConfig       `yaml:"email"`
	Capture     CaptureConfig     `yaml:"capture"`
	HTTP        HTTPConfig        `yaml:"http"`
	Controllers ControllersConfig `yaml:"controllers"`
	Log         LogConfig         `yaml:"log"`

	// Per-environment sections, decoded over the base values when
	// Environment matches.
	Development yaml.Node `yaml:"development,omitempty"`
	Staging     yaml.Node `yaml:"staging,omitempty"`
	Production  yaml.Node `yaml:"production,omitempty"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// Root is the base directory for everything below.
	Root string `yaml:"root"`

	// Database is the SQLite file backing every store.
	Database string `yaml:"database"`

	// Blobs holds captured evidence artifacts.
	Blobs string `yaml:"blobs"`

	// Keys holds the ledger signing keys, the subject sealing identity
	// and the blob encryption key.
	Keys string `yaml:"keys"`
}

// QueueConfig tunes the job queue and its workers.
type QueueConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// JobTimeout bounds one execution of a job's side effect.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// LeaseTimeout is how long a running claim may go without
	// completing before the reaper takes it back.
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	ReapInterval time.Duration `yaml:"reap_interval"`

	MaxAttempts int `yaml:"max_attempts"`
}

// BreakerConfig holds breaker defaults. Controllers may override
// threshold and window in the capability table.
type BreakerConfig struct {
	Threshold   int           `yaml:"threshold"`
	Window      time.Duration `yaml:"window"`
	CoolDown    time.Duration `yaml:"cool_down"`
	MaxCoolDown time.Duration `yaml:"max_cool_down"`
}

// IdempotencyConfig controls reservation lifetime.
type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`

	// LabelTTLs overrides TTL for specific action labels.
	LabelTTLs map[string]time.Duration `yaml:"label_ttls"`

	// AtLeastOnce lists action labels allowed through when the guard's
	// store is unavailable. Every other label fails closed.
	AtLeastOnce []string `yaml:"at_least_once"`
}

// SweepConfig schedules verification.
type SweepConfig struct {
	Interval     time.Duration `yaml:"interval"`
	BatchLimit   int           `yaml:"batch_limit"`
	FanOut       int           `yaml:"fan_out"`
	Pause        time.Duration `yaml:"pause"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// RetryInterval schedules the next attempt after an inconclusive
	// check.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// RecheckInterval schedules the next check after a conclusive one.
	RecheckInterval time.Duration `yaml:"recheck_interval"`

	// InitialDelay is how long after dispatch the first check runs.
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// DeadLetterConfig schedules automatic DLQ retries. A zero Interval
// disables them; operators can still retry by hand.
type DeadLetterConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval"`
	BatchLimit    int           `yaml:"batch_limit"`
	Pause         time.Duration `yaml:"pause"`
}

// SigningConfig selects the ledger signer.
type SigningConfig struct {
	// Backend is "local" or "kms".
	Backend string `yaml:"backend"`

	// Algorithm is "ed25519" or "rsa-pss-sha256".
	Algorithm string `yaml:"algorithm"`

	// KeyID names the local key file pair in paths.keys.
	KeyID string `yaml:"key_id"`

	// KMSKey is the KMS key ARN or alias when Backend is "kms".
	KMSKey      string `yaml:"kms_key"`
	KMSRegion   string `yaml:"kms_region"`
	KMSEndpoint string `yaml:"kms_endpoint"`
}

// EmailConfig configures the SES email channel. An empty From disables
// the channel.
type EmailConfig struct {
	From     string `yaml:"from"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// CaptureConfig points at the evidence capture service. An empty
// ServiceURL falls back to a plain fetch with no screenshot.
type CaptureConfig struct {
	ServiceURL string `yaml:"service_url"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Listen          string        `yaml:"listen"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ControllersConfig locates capability table overrides.
type ControllersConfig struct {
	Overrides string `yaml:"overrides"`
}

// LogConfig selects the service log output.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns development defaults. They exist so every field has
// a sensible value; the config file is still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "state", "erasure")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:     root,
			Database: "${ERASURE_ROOT}/erasure.db",
			Blobs:    "${ERASURE_ROOT}/blobs",
			Keys:     "${ERASURE_ROOT}/keys",
		},
		Queue: QueueConfig{
			Workers:      4,
			PollInterval: time.Second,
			JobTimeout:   8 * time.Second,
			LeaseTimeout: 2 * time.Minute,
			ReapInterval: 30 * time.Second,
			MaxAttempts:  3,
		},
		Breaker: BreakerConfig{
			Threshold:   5,
			Window:      10 * time.Minute,
			CoolDown:    5 * time.Minute,
			MaxCoolDown: 2 * time.Hour,
		},
		Idempotency: IdempotencyConfig{
			TTL: 30 * 24 * time.Hour,
		},
		Sweep: SweepConfig{
			Interval:        15 * time.Minute,
			BatchLimit:      50,
			FanOut:          5,
			Pause:           750 * time.Millisecond,
			FetchTimeout:    8 * time.Second,
			RetryInterval:   6 * time.Hour,
			RecheckInterval: 7 * 24 * time.Hour,
			InitialDelay:    72 * time.Hour,
		},
		DeadLetter: DeadLetterConfig{
			RetryInterval: time.Hour,
			BatchLimit:    25,
			Pause:         time.Second,
		},
		Signing: SigningConfig{
			Backend:   "local",
			Algorithm: "ed25519",
			KeyID:     "ledger",
		},
		Email: EmailConfig{
			Region: "us-east-1",
		},
		HTTP: HTTPConfig{
			Listen:          "127.0.0.1:8470",
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file named by ERASURE_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your erasure.yaml config file, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, applies the matching
// environment section and expands path variables. It does not
// validate; callers run Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse is LoadFile for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() error {
	var section *yaml.Node
	switch c.Environment {
	case Development:
		section = &c.Development
	case Staging:
		section = &c.Staging
	case Production:
		section = &c.Production
	}
	if section == nil || section.Kind == 0 {
		return nil
	}

	// Decoding over c sets only the keys present in the section. The
	// section must not switch environments out from under itself.
	environment := c.Environment
	if err := section.Decode(c); err != nil {
		return fmt.Errorf("parsing %s section: %w", environment, err)
	}
	c.Environment = environment
	return nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["ERASURE_ROOT"] = c.Paths.Root

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Blobs = expandVars(c.Paths.Blobs, vars)
	c.Paths.Keys = expandVars(c.Paths.Keys, vars)
	c.Controllers.Overrides = expandVars(c.Controllers.Overrides, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}. vars wins over the
// process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every configuration error joined together.
func (c *Config) Validate() error {
	var errs []error
	requirePositive := func(name string, value time.Duration) {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if !slices.Contains([]Environment{Development, Staging, Production}, c.Environment) {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, errors.New("paths.database is required"))
	}

	if c.Queue.Workers < 1 {
		errs = append(errs, errors.New("queue.workers must be at least 1"))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("queue.max_attempts must be at least 1"))
	}
	requirePositive("queue.poll_interval", c.Queue.PollInterval)
	requirePositive("queue.job_timeout", c.Queue.JobTimeout)
	requirePositive("queue.lease_timeout", c.Queue.LeaseTimeout)
	requirePositive("queue.reap_interval", c.Queue.ReapInterval)
	if c.Queue.LeaseTimeout > 0 && c.Queue.LeaseTimeout <= c.Queue.JobTimeout {
		errs = append(errs, errors.New("queue.lease_timeout must exceed queue.job_timeout"))
	}

	if c.Breaker.Threshold < 1 {
		errs = append(errs, errors.New("breaker.threshold must be at least 1"))
	}
	requirePositive("breaker.window", c.Breaker.Window)
	requirePositive("breaker.cool_down", c.Breaker.CoolDown)
	if c.Breaker.MaxCoolDown < c.Breaker.CoolDown {
		errs = append(errs, errors.New("breaker.max_cool_down must be at least breaker.cool_down"))
	}

	requirePositive("idempotency.ttl", c.Idempotency.TTL)
	for label, ttl := range c.Idempotency.LabelTTLs {
		requirePositive("idempotency.label_ttls."+label, ttl)
	}

	requirePositive("sweep.interval", c.Sweep.Interval)
	requirePositive("sweep.retry_interval", c.Sweep.RetryInterval)
	requirePositive("sweep.recheck_interval", c.Sweep.RecheckInterval)
	if c.Sweep.BatchLimit < 1 {
		errs = append(errs, errors.New("sweep.batch_limit must be at least 1"))
	}
	if c.Sweep.FanOut < 1 || c.Sweep.FanOut > 16 {
		errs = append(errs, errors.New("sweep.fan_out must be between 1 and 16"))
	}
	if c.Sweep.FetchTimeout <= 0 || c.Sweep.FetchTimeout >= 10*time.Second {
		errs = append(errs, errors.New("sweep.fetch_timeout must be between 0 and 10s"))
	}
	if c.Sweep.Pause < 0 {
		errs = append(errs, errors.New("sweep.pause must not be negative"))
	}

	if c.DeadLetter.RetryInterval < 0 {
		errs = append(errs, errors.New("dead_letter.retry_interval must not be negative"))
	}

	switch c.Signing.Backend {
	case "local":
		if c.Signing.KeyID == "" {
			errs = append(errs, errors.New("signing.key_id is required for the local backend"))
		}
		if c.Paths.Keys == "" {
			errs = append(errs, errors.New("paths.keys is required for the local backend"))
		}
	case "kms":
		if c.Signing.KMSKey == "" {
			errs = append(errs, errors.New("signing.kms_key is required for the kms backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("signing.backend must be local or kms, got %q", c.Signing.Backend))
	}
	if c.Signing.Algorithm != "ed25519" && c.Signing.Algorithm != "rsa-pss-sha256" {
		errs = append(errs, fmt.Errorf("signing.algorithm must be ed25519 or rsa-pss-sha256, got %q", c.Signing.Algorithm))
	}

	if c.HTTP.Listen == "" {
		errs = append(errs, errors.New("http.listen is required"))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// LabelTTL returns the reservation lifetime for an action label.
func (c IdempotencyConfig) LabelTTL(label string) time.Duration {
	if ttl, ok := c.LabelTTLs[label]; ok && ttl > 0 {
		return ttl
	}
	return c.TTL
}

// EnsurePaths creates the state directories. Keys are 0700.
func (c *Config) EnsurePaths() error {
	directories := []struct {
		path string
		mode os.FileMode
	}{
		{c.Paths.Root, 0o755},
		{filepath.Dir(c.Paths.Database), 0o755},
		{c.Paths.Blobs, 0o755},
		{c.Paths.Keys, 0o700},
	}
	for _, directory := range directories {
		if directory.path == "" {
			continue
		}
		if err := os.MkdirAll(directory.path, directory.mode); err != nil {
			return fmt.Errorf("creating %s: %w", directory.path, err)
		}
	}
	return nil
}
