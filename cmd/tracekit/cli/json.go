// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
)

// WriteJSON prints value to stdout as indented JSON, one trailing
// newline. It is the output path behind every --json flag. A nil
// slice prints as [] rather than null, so downstream `jq` pipelines
// can always iterate.
func WriteJSON(value any) error {
	data, err := json.MarshalIndent(emptyIfNilSlice(value), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	data = append(data, '\n')
	_, err = os.Stdout.Write(data)
	return err
}

// emptyIfNilSlice swaps a nil slice for a zero-length one of the same
// type. Anything that is not a nil slice passes through untouched.
func emptyIfNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice || !v.IsNil() {
		return value
	}
	return reflect.MakeSlice(v.Type(), 0, 0).Interface()
}
