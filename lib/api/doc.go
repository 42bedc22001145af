// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package api is the HTTP surface of the erasure service.
//
// Operator routes live under /v1 and speak JSON. The public
// verification routes under /public let anyone holding a ledger record
// id or an exported bundle check a proof; they carry CORS headers so a
// browser page on another origin can call them. Ledger bundles travel
// as application/cbor.
//
// Dispatch refusals keep their structured response body and map the
// error code to a status: invalid requests are 400, unknown
// controllers 404, unavailable ones 409 and every infrastructure
// refusal (open circuit, guard or queue failure) 503.
package api
