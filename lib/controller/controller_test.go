// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/erasure/lib/schema"
)

func TestDefaults(t *testing.T) {
	table, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}

	olx, ok := table.Lookup("olx")
	if !ok {
		t.Fatal("olx missing from defaults")
	}
	if olx.Channel != schema.ChannelWebform || olx.FormURL == "" {
		t.Errorf("olx = %+v, want a webform with a form URL", olx)
	}
	if olx.BreakerThreshold != 5 || olx.BreakerWindow != 10*time.Minute {
		t.Errorf("olx breaker = %d/%s, want 5/10m", olx.BreakerThreshold, olx.BreakerWindow)
	}

	intelius, ok := table.Lookup("intelius")
	if !ok || intelius.Available {
		t.Errorf("intelius = %+v, %v; want present and unavailable", intelius, ok)
	}

	if _, ok := table.Lookup(" TrueCaller "); !ok {
		t.Error("Lookup is not case-insensitive")
	}
}

func TestOverridesReplaceOnlySetFields(t *testing.T) {
	table, err := Parse([]byte(`{
		// Point olx at staging and disable it.
		"olx": {"form_url": "https://staging.example/olx", "available": false},
		"NewBroker": {"name": "New Broker", "channel": "email", "privacy_email": "dpo@new.example", "available": true,},
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	olx, _ := table.Lookup("olx")
	if olx.FormURL != "https://staging.example/olx" {
		t.Errorf("form_url = %q", olx.FormURL)
	}
	if olx.Available {
		t.Error("available override not applied")
	}
	if olx.Name != "OLX" || olx.BreakerThreshold != 5 {
		t.Errorf("unset fields lost their defaults: %+v", olx)
	}

	added, ok := table.Lookup("newbroker")
	if !ok {
		t.Fatal("override did not add a new controller")
	}
	if added.Channel != schema.ChannelEmail || added.PrivacyEmail != "dpo@new.example" {
		t.Errorf("added = %+v", added)
	}
}

func TestOverridesValidated(t *testing.T) {
	cases := map[string]string{
		"unknown channel":   `{"olx": {"channel": "fax"}}`,
		"email w/o address": `{"x": {"channel": "email", "available": true}}`,
		"bad window":        `{"olx": {"breaker_window": "soon"}}`,
		"negative":          `{"olx": {"breaker_threshold": -1}}`,
		"not json":          `{"olx": `,
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: Parse succeeded", name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controllers.jsonc")
	if err := os.WriteFile(path, []byte(`{"truecaller": {"breaker_threshold": 2}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	truecaller, _ := table.Lookup("truecaller")
	if truecaller.BreakerThreshold != 2 {
		t.Errorf("threshold = %d, want 2", truecaller.BreakerThreshold)
	}
	if len(table.Keys()) != len(table.All()) {
		t.Error("Keys and All disagree")
	}
}
