// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"testing"
)

func TestDispatchResponseAbsentFieldsAreNull(t *testing.T) {
	data, err := json.Marshal(DispatchResponse{
		OK:          true,
		Channel:     ChannelWebform,
		ProviderRef: "job_1",
		Idempotent:  IdempotencyNew,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"ok":true,"channel":"webform","provider_ref":"job_1","error":null,"note":null,"idempotent":"new","hint":null}`
	if string(data) != want {
		t.Errorf("Marshal = %s\nwant      %s", data, want)
	}

	var decoded DispatchResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ProviderRef != "job_1" || decoded.Error != "" || decoded.Hint != "" || !decoded.OK {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDispatchResponseInsideSlice(t *testing.T) {
	data, err := json.Marshal([]DispatchResponse{{
		Channel:    ChannelNoop,
		Error:      "circuit_open",
		Idempotent: IdempotencyNew,
		Hint:       "retry later",
		ActionID:   "act_1",
	}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `[{"ok":false,"channel":"noop","provider_ref":null,"error":"circuit_open","note":null,"idempotent":"new","hint":"retry later","action_id":"act_1"}]`
	if string(data) != want {
		t.Errorf("Marshal = %s\nwant      %s", data, want)
	}
}
