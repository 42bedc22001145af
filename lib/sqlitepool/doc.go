// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite database behind lib/store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies the
// same pragmas to every connection:
//
//   - journal_mode=WAL so sweep reads never block worker claims.
//   - synchronous=NORMAL: a committed claim survives a process crash.
//   - busy_timeout=5000: concurrent conditional writes queue on the
//     write lock instead of failing with SQLITE_BUSY.
//   - foreign_keys=OFF: the store keeps references consistent itself.
//   - cache_size, mmap_size and temp_store tuned for a small,
//     read-mostly working set.
//
// Schema setup runs once per connection through [Config.OnConnect].
// [Migrate] applies an ordered list of migration scripts tracked by
// PRAGMA user_version, so every connection converges on the same
// schema no matter which one opened the file first.
//
// Connections are not safe for concurrent use. Each goroutine takes
// its own with [Pool.Take] and returns it with [Pool.Put], or uses
// [Pool.Do] which does both.
package sqlitepool
