// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Open returns a reader over the handle's uncompressed artifact
// content. The caller must Close the returned reader; it does not
// release the pin — call Cache.Drop(handle) separately when the
// artifact is no longer needed.
func (h *Handle) Open() (io.ReadCloser, error) {
	file, err := os.Open(h.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", h.digest, err)
	}
	decoder, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("opening decompressor for %s: %w", h.digest, err)
	}
	return &decompressingReadCloser{decoder: decoder, file: file}, nil
}

type decompressingReadCloser struct {
	decoder *zstd.Decoder
	file    *os.File
}

func (r *decompressingReadCloser) Read(p []byte) (int, error) {
	return r.decoder.Read(p)
}

func (r *decompressingReadCloser) Close() error {
	r.decoder.Close()
	return r.file.Close()
}
