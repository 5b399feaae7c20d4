// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// The shared modes are built once at startup. An invalid option set is
// a programming error, so construction panics instead of threading an
// error through every caller.
var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	// Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
	// shortest integer forms, no indefinite-length items. Encoding the
	// same plan twice yields identical bytes, so plans can be compared
	// or content-addressed without a canonicalization pass.
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: building CBOR encode mode: " + err.Error())
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		// A plan over a large trace directory carries one spec per
		// chunk slice; the library's default 128Ki array cap is too
		// small for the biggest runs.
		MaxArrayElements: 1 << 22,

		// Duplicate map keys mean a corrupt or hand-edited file.
		// Reject them instead of silently keeping the last value.
		DupMapKey: cbor.DupMapKeyEnforcedAPF,

		// Any-typed targets decode maps as map[string]any rather than
		// the CBOR default map[any]any, keeping decoded values
		// compatible with encoding/json and the rest of the tree.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decode mode: " + err.Error())
	}
	return mode
}

// Marshal encodes v deterministically: identical values produce
// identical bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Fields present in data but
// absent from v's type are ignored, so older binaries read plans
// written by newer ones.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
