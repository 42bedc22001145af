// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller is the capability table of data controllers the
// dispatcher can reach.
//
// The table is built once at startup from two layers: defaults
// embedded in the binary (defaults.jsonc) and an optional per-
// deployment overrides file in the same JSONC format. An override
// names a controller key and replaces only the fields it sets; a key
// absent from the defaults adds a new controller. Nothing is probed
// at runtime: a controller whose channel adapter is not deployed is
// listed with available=false and the dispatcher refuses it up front.
//
// This package imports only lib/schema, so the defaults never depend
// on anything that depends on them.
package controller
