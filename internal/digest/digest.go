// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest implements the content address used throughout
// Maelstrom: a SHA-256 hash that identifies an immutable artifact.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Digest is a SHA-256 content hash, 32 raw bytes.
type Digest [32]byte

// Zero is the all-zero digest, used as a "no digest" sentinel.
var Zero Digest

// String returns the canonical lowercase hex encoding. This is the
// form used in wire messages, cache directory names, and log output.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ShardPrefix returns the first two hex characters, used as the
// first path component under the cache's sha256/ directory (§6:
// sha256/<first-two-hex>/<digest-hex>).
func (d Digest) ShardPrefix() string {
	return d.String()[:2]
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Zero
}

// MarshalText implements encoding.TextMarshaler so a Digest can be
// used directly as a CBOR/JSON map key or struct field without a
// wrapper type.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Parse decodes a 64-character hex string into a Digest.
func Parse(s string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parsing digest %q: %w", s, err)
	}
	if len(decoded) != len(d) {
		return d, fmt.Errorf("digest %q is %d bytes, want %d", s, len(decoded), len(d))
	}
	copy(d[:], decoded)
	return d, nil
}

// Sum computes the Digest of the bytes read from r, streaming them
// through SHA-256 so memory use stays constant for large artifacts.
func Sum(r io.Reader) (Digest, int64, error) {
	hasher := sha256.New()
	written, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, 0, fmt.Errorf("hashing content: %w", err)
	}
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d, written, nil
}

// SumBytes computes the Digest of an in-memory byte slice.
func SumBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(sum)
}
