// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/maelstrom-ci/maelstrom/internal/errs"
)

// MaxFrameSize bounds a single framed message payload. Artifact
// bodies never go through this path — they are raw byte streams of
// a declared length following their header frame — so this only
// needs to be large enough for the largest control message
// (AssignJob with an expansive ContainerSpec).
const MaxFrameSize = 16 * 1024 * 1024

// WriteFrame writes an 8-byte little-endian length prefix followed by
// payload, matching spec §4.1. Safe to call concurrently with reads on
// the same connection, but not with other concurrent writes — callers
// own a single writer goroutine per connection.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. Returns
// errs.ErrFrameTooLarge if the declared length exceeds MaxFrameSize —
// a framing error is fatal to the connection per spec §7.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint64(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", errs.ErrFrameTooLarge, length, MaxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}

// WriteMessage CBOR-encodes v and writes it as one frame.
func WriteMessage(w io.Writer, v any) error {
	payload, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame and CBOR-decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

// WriteBody copies exactly size bytes from src to w as a raw,
// unframed stream: the receiver already knows the length (it was
// declared in the preceding control message) so no further framing
// is needed, which lets the receiver splice the stream directly to
// disk. Returns an error if src yields fewer than size bytes.
func WriteBody(w io.Writer, src io.Reader, size int64) error {
	written, err := io.CopyN(w, src, size)
	if err != nil {
		return fmt.Errorf("writing body (%d/%d bytes): %w", written, size, err)
	}
	return nil
}

// ReadBody copies exactly size bytes from r to dst.
func ReadBody(dst io.Writer, r io.Reader, size int64) error {
	written, err := io.CopyN(dst, r, size)
	if err != nil {
		return fmt.Errorf("reading body (%d/%d bytes): %w", written, size, err)
	}
	return nil
}
