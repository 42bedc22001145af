// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes. A failed check is distinct from an error, so scripts can
// tell "the receipt does not match" from "could not read the receipt".
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitCheckFailed = 3
)

// ErrCheckFailed marks an error from a verification that ran and
// failed.
var ErrCheckFailed = errors.New("check failed")

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrCheckFailed):
		return ExitCheckFailed
	default:
		var usage *UsageError
		if errors.As(err, &usage) {
			return ExitUsage
		}
		return ExitError
	}
}

// UsageError reports a bad command line.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

// Usagef returns a *UsageError.
func Usagef(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// Report writes "error: err" to w unless err is nil.
func Report(w io.Writer, err error) {
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
}

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
// main uses it for errors returned by run, when the structured logger
// may not exist yet.
func Fatal(err error) {
	Report(os.Stderr, err)
	os.Exit(ExitCode(err))
}
