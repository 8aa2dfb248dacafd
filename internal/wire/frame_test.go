// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/maelstrom-ci/maelstrom/internal/errs"
)

type sampleMessage struct {
	Kind  string            `cbor:"kind"`
	Count int               `cbor:"count"`
	Tags  map[string]string `cbor:"tags"`
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello frame")

	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadFrame = %q, want %q", got, payload)
	}
}

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	original := sampleMessage{Kind: "AssignJob", Count: 3, Tags: map[string]string{"priority": "high"}}

	if err := WriteMessage(&buf, &original); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var decoded sampleMessage
	if err := ReadMessage(&buf, &decoded); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if decoded.Kind != original.Kind || decoded.Count != original.Count || decoded.Tags["priority"] != "high" {
		t.Fatalf("decoded = %+v, want %+v", decoded, original)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	m := sampleMessage{Kind: "x", Count: 1, Tags: map[string]string{"b": "2", "a": "1"}}

	first, err := Marshal(&m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(&m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("Marshal is not deterministic across calls: %x != %x", first, second)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 0)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	// Overwrite the length header with a value beyond MaxFrameSize.
	header := buf.Bytes()
	for i := 0; i < 8; i++ {
		header[i] = 0xff
	}

	_, err := ReadFrame(&buf)
	if !errors.Is(err, errs.ErrFrameTooLarge) {
		t.Fatalf("ReadFrame error = %v, want errs.ErrFrameTooLarge", err)
	}
}

func TestWriteReadBodyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	content := bytes.Repeat([]byte("a"), 4096)

	if err := WriteBody(&buf, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("WriteBody: %v", err)
	}

	got := make([]byte, len(content))
	dst := bytes.NewBuffer(nil)
	if err := ReadBody(dst, &buf, int64(len(content))); err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	copy(got, dst.Bytes())
	if !bytes.Equal(got, content) {
		t.Fatal("ReadBody did not return the written bytes unchanged")
	}
}
