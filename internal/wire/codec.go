// Copyright 2026 The Maelstrom Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the length-prefixed framing described in
// spec §4.1: an 8-byte little-endian length followed by that many
// bytes of a CBOR-encoded payload. Artifact bodies are carried as a
// second, separate byte stream of known length so a receiver can
// splice them straight to disk without buffering the whole payload.
package wire

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode encodes with CBOR Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest-possible integers, no
// indefinite-length items. The same logical message always produces
// identical bytes, which is what the round-trip property (spec §8,
// property 6) checks for.
var encMode cbor.EncMode

// decMode decodes standard CBOR, ignoring unknown fields so that a
// newer sender's message is still readable by an older receiver.
var decMode cbor.DecMode

func init() {
	encOptions := cbor.CoreDetEncOptions()
	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR-encoded data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
