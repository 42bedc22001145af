// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobstore keeps evidence artifacts (captured HTML and
// screenshots) on the local filesystem.
//
// Blobs are content addressed. A blob's path is
// <kind>/<prefix>/<hash>, where hash is the hex BLAKE3 keyed hash of
// the plaintext under [digest.BlobDomain] and prefix is its first two
// characters. Writing the same bytes twice yields the same path and
// one file.
//
// Each file holds a small frame: a compression tag, the uncompressed
// length and the (possibly compressed) body. HTML and other text is
// compressed with zstd, images are stored as-is since they are
// already compressed, and anything else gets LZ4. When a master key is
// configured the frame is sealed with XChaCha20-Poly1305 under a key
// derived per blob with HKDF-SHA256, and the blob hash is bound in as
// additional authenticated data so files cannot be swapped.
//
// [Store.Get] recomputes the hash of what it read and rejects a file
// whose contents no longer match its path with [ErrCorrupt].
package blobstore
