// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"bytes"
	"testing"
)

func TestSumBytesAndString(t *testing.T) {
	d := SumBytes([]byte("hello, maelstrom"))
	if d.IsZero() {
		t.Fatal("SumBytes produced the zero digest")
	}
	if len(d.String()) != 64 {
		t.Fatalf("String() length = %d, want 64", len(d.String()))
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := SumBytes([]byte("round trip me"))

	parsed, err := Parse(original.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != original {
		t.Fatalf("Parse(String()) = %v, want %v", parsed, original)
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{"", "not-hex!!", "deadbeef", ""}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", c)
		}
	}
}

func TestSumMatchesSumBytes(t *testing.T) {
	content := []byte("streamed content for digest verification")

	viaReader, n, err := Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if n != int64(len(content)) {
		t.Fatalf("Sum byte count = %d, want %d", n, len(content))
	}

	viaBytes := SumBytes(content)
	if viaReader != viaBytes {
		t.Fatalf("Sum(reader) = %v, SumBytes = %v, want equal", viaReader, viaBytes)
	}
}

func TestShardPrefix(t *testing.T) {
	d := SumBytes([]byte("shard me"))
	prefix := d.ShardPrefix()
	if len(prefix) != 2 {
		t.Fatalf("ShardPrefix() = %q, want length 2", prefix)
	}
	if prefix != d.String()[:2] {
		t.Fatalf("ShardPrefix() = %q, want prefix of %q", prefix, d.String())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := SumBytes([]byte("text round trip"))

	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var decoded Digest
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != original {
		t.Fatalf("UnmarshalText(MarshalText()) = %v, want %v", decoded, original)
	}
}
