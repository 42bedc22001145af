// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"strings"
	"testing"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("opening store: disk full"), ExitError},
		{Usagef("unknown command %q", "frobnicate"), ExitUsage},
		{fmt.Errorf("receipt job_1: %w", ErrCheckFailed), ExitCheckFailed},
		{fmt.Errorf("wrapped: %w", Usagef("missing id")), ExitUsage},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestReport(t *testing.T) {
	var out strings.Builder
	Report(&out, nil)
	Report(&out, Usagef("missing id"))
	if out.String() != "error: missing id\n" {
		t.Errorf("Report wrote %q", out.String())
	}
}
