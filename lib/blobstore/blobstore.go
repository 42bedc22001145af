// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bureau-foundation/erasure/lib/digest"
	"github.com/bureau-foundation/erasure/lib/secret"
)

// Blob kinds used by the sweeper.
const (
	KindHTML       = "html"
	KindScreenshot = "screenshot"
)

// ErrNotFound is returned by Get for a path with no file.
var ErrNotFound = errors.New("blobstore: blob not found")

// ErrCorrupt is returned by Get when a file fails authentication or
// its contents no longer hash to its path.
var ErrCorrupt = errors.New("blobstore: blob corrupt")

// ErrKeyRequired is returned when reading a sealed blob from a store
// opened without a master key.
var ErrKeyRequired = errors.New("blobstore: blob is sealed and no key is configured")

// File mode bytes. The first byte of every file says whether the rest
// is a plain frame or a sealed one.
const (
	modePlain  byte = 'P'
	modeSealed byte = 'S'
)

// frameHeaderSize is the compression tag plus a 4-byte length.
const frameHeaderSize = 1 + 4

var (
	kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)
	pathPattern = regexp.MustCompile(`^([a-z][a-z0-9_-]{0,31})/([0-9a-f]{2})/([0-9a-f]{64})$`)
)

// Config holds the parameters for opening a Store.
type Config struct {
	// Root is the directory blobs are written under. Created if
	// missing.
	Root string

	// MasterKey enables encryption at rest when non-nil. It must be
	// KeySize bytes. The Store takes ownership and closes it.
	MasterKey *secret.Buffer

	Logger *slog.Logger
}

// Store is a content-addressed blob directory. It is safe for
// concurrent use.
type Store struct {
	root      string
	masterKey *secret.Buffer
	logger    *slog.Logger
}

// Open prepares the blob directory.
func Open(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("blobstore: Root is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("blobstore: Logger is required")
	}
	if cfg.MasterKey != nil && cfg.MasterKey.Len() != KeySize {
		return nil, fmt.Errorf("blobstore: master key must be %d bytes, got %d", KeySize, cfg.MasterKey.Len())
	}
	if err := os.MkdirAll(cfg.Root, 0o700); err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	return &Store{root: cfg.Root, masterKey: cfg.MasterKey, logger: cfg.Logger}, nil
}

// Close releases the master key.
func (s *Store) Close() error {
	if s.masterKey == nil {
		return nil
	}
	return s.masterKey.Close()
}

// Encrypted reports whether new blobs are sealed.
func (s *Store) Encrypted() bool {
	return s.masterKey != nil
}

// Put stores data under kind and returns its relative path. The
// content type selects compression. Storing bytes already present is a
// no-op that returns the existing path.
func (s *Store) Put(kind, contentType string, data []byte) (string, error) {
	if !kindPattern.MatchString(kind) {
		return "", fmt.Errorf("blobstore: invalid kind %q", kind)
	}
	hash := digest.Blob(data)
	hexHash := digest.FormatHash(hash)
	relative := kind + "/" + hexHash[:2] + "/" + hexHash
	absolute := filepath.Join(s.root, filepath.FromSlash(relative))

	if _, err := os.Stat(absolute); err == nil {
		return relative, nil
	}

	body, tag, err := compress(data, SelectCompression(contentType))
	if err != nil {
		return "", fmt.Errorf("blobstore: %w", err)
	}
	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	frame[0] = byte(tag)
	binary.BigEndian.PutUint32(frame[1:], uint32(len(data)))
	frame = append(frame, body...)

	contents := append([]byte{modePlain}, frame...)
	if s.masterKey != nil {
		sealed, err := seal(frame, s.masterKey, hash)
		if err != nil {
			return "", fmt.Errorf("blobstore: sealing %s: %w", relative, err)
		}
		contents = append([]byte{modeSealed}, sealed...)
	}

	if err := writeAtomic(absolute, contents); err != nil {
		return "", fmt.Errorf("blobstore: writing %s: %w", relative, err)
	}
	s.logger.Debug("blob stored",
		"path", relative,
		"size", len(data),
		"stored_size", len(contents),
		"compression", tag.String(),
		"sealed", s.masterKey != nil,
	)
	return relative, nil
}

// Get returns the plaintext stored at path.
func (s *Store) Get(path string) ([]byte, error) {
	match := pathPattern.FindStringSubmatch(path)
	if match == nil || !strings.HasPrefix(match[3], match[2]) {
		return nil, fmt.Errorf("blobstore: invalid path %q", path)
	}
	hash, err := digest.ParseHash(match[3])
	if err != nil {
		return nil, fmt.Errorf("blobstore: invalid path %q: %w", path, err)
	}

	contents, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: reading %s: %w", path, err)
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCorrupt, path)
	}

	frame := contents[1:]
	switch contents[0] {
	case modePlain:
	case modeSealed:
		if s.masterKey == nil {
			return nil, ErrKeyRequired
		}
		if frame, err = unseal(frame, s.masterKey, hash); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s has unknown mode %q", ErrCorrupt, path, contents[0])
	}

	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("%w: %s frame is truncated", ErrCorrupt, path)
	}
	size := int(binary.BigEndian.Uint32(frame[1:frameHeaderSize]))
	data, err := decompress(frame[frameHeaderSize:], CompressionTag(frame[0]), size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if digest.Blob(data) != hash {
		return nil, fmt.Errorf("%w: %s content does not match its hash", ErrCorrupt, path)
	}
	return data, nil
}

// writeAtomic writes through a temporary file in the target directory
// and renames it into place, so readers never see a partial blob.
func writeAtomic(path string, contents []byte) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return err
	}
	temporary, err := os.CreateTemp(directory, ".tmp-*")
	if err != nil {
		return err
	}
	name := temporary.Name()
	if _, err := temporary.Write(contents); err != nil {
		temporary.Close()
		os.Remove(name)
		return err
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		os.Remove(name)
		return err
	}
	if err := temporary.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
