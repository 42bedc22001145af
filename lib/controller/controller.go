// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/erasure/lib/schema"
)

//go:embed defaults.jsonc
var defaultsJSONC []byte

// Controller is one entry in the capability table.
type Controller struct {
	Key          string
	Name         string
	Channel      schema.Channel
	FormURL      string
	PrivacyEmail string

	// BreakerThreshold and BreakerWindow override the breaker
	// defaults when non-zero.
	BreakerThreshold int
	BreakerWindow    time.Duration

	Available bool
}

// entry is the JSONC shape. Pointer fields distinguish "unset" from
// zero so overrides replace only what they name.
type entry struct {
	Name             *string `json:"name"`
	Channel          *string `json:"channel"`
	FormURL          *string `json:"form_url"`
	PrivacyEmail     *string `json:"privacy_email"`
	BreakerThreshold *int    `json:"breaker_threshold"`
	BreakerWindow    *string `json:"breaker_window"`
	Available        *bool   `json:"available"`
}

// Table maps controller keys to controllers. It is immutable after
// construction and safe for concurrent use.
type Table struct {
	controllers map[string]Controller
}

// Defaults returns the table built from the embedded defaults alone.
func Defaults() (*Table, error) {
	return build(nil)
}

// Load returns the embedded defaults merged with the overrides file at
// path. An empty path means no overrides.
func Load(path string) (*Table, error) {
	if path == "" {
		return Defaults()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("controller: reading overrides: %w", err)
	}
	return build(data)
}

// Parse builds a table from the defaults plus overrides given as
// JSONC bytes.
func Parse(overrides []byte) (*Table, error) {
	return build(overrides)
}

func build(overrides []byte) (*Table, error) {
	base, err := parseEntries(defaultsJSONC)
	if err != nil {
		return nil, fmt.Errorf("controller: embedded defaults: %w", err)
	}
	table := &Table{controllers: make(map[string]Controller, len(base))}
	for key, value := range base {
		key = normalizeKey(key)
		table.controllers[key] = apply(Controller{Key: key}, value)
	}

	if overrides != nil {
		layer, err := parseEntries(overrides)
		if err != nil {
			return nil, fmt.Errorf("controller: overrides: %w", err)
		}
		for key, value := range layer {
			key = normalizeKey(key)
			current, ok := table.controllers[key]
			if !ok {
				current = Controller{Key: key}
			}
			table.controllers[key] = apply(current, value)
		}
	}

	var errs []error
	for _, key := range table.Keys() {
		if err := table.controllers[key].validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return table, nil
}

func parseEntries(data []byte) (map[string]entry, error) {
	entries := make(map[string]entry)
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return nil, err
	}
	for key, value := range entries {
		if value.BreakerWindow != nil {
			if _, err := time.ParseDuration(*value.BreakerWindow); err != nil {
				return nil, fmt.Errorf("%s: breaker_window: %w", key, err)
			}
		}
	}
	return entries, nil
}

func apply(current Controller, value entry) Controller {
	if value.Name != nil {
		current.Name = *value.Name
	}
	if value.Channel != nil {
		current.Channel = schema.Channel(*value.Channel)
	}
	if value.FormURL != nil {
		current.FormURL = *value.FormURL
	}
	if value.PrivacyEmail != nil {
		current.PrivacyEmail = *value.PrivacyEmail
	}
	if value.BreakerThreshold != nil {
		current.BreakerThreshold = *value.BreakerThreshold
	}
	if value.BreakerWindow != nil {
		// Validated in parseEntries.
		current.BreakerWindow, _ = time.ParseDuration(*value.BreakerWindow)
	}
	if value.Available != nil {
		current.Available = *value.Available
	}
	return current
}

func (c Controller) validate() error {
	switch c.Channel {
	case schema.ChannelWebform:
		if c.FormURL == "" && c.Available {
			return fmt.Errorf("controller %s: webform channel needs form_url", c.Key)
		}
	case schema.ChannelEmail:
		if c.PrivacyEmail == "" && c.Available {
			return fmt.Errorf("controller %s: email channel needs privacy_email", c.Key)
		}
	case schema.ChannelNoop:
	default:
		return fmt.Errorf("controller %s: unknown channel %q", c.Key, c.Channel)
	}
	if c.BreakerThreshold < 0 {
		return fmt.Errorf("controller %s: breaker_threshold must not be negative", c.Key)
	}
	return nil
}

// Lookup returns the controller for key. Keys are case-insensitive.
func (t *Table) Lookup(key string) (Controller, bool) {
	controller, ok := t.controllers[normalizeKey(key)]
	return controller, ok
}

// Keys returns every controller key in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.controllers))
	for key := range t.controllers {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// All returns every controller sorted by key.
func (t *Table) All() []Controller {
	all := make([]Controller, 0, len(t.controllers))
	for _, key := range t.Keys() {
		all = append(all, t.controllers[key])
	}
	return all
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
