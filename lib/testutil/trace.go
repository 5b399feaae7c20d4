// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// TraceOpts controls the shape of a generated trace payload.
type TraceOpts struct {
	// Bracketed adds the Chrome trace array wrapper: a leading "["
	// line and a trailing "]" line.
	Bracketed bool

	// TrailingCommas ends every event line with "},": the form the
	// incremental pfw writers emit mid-array.
	TrailingCommas bool

	// StartID is the id of the first event; subsequent events count
	// up from it.
	StartID int
}

// EventLine returns one deterministic trace event as a JSON object,
// without a newline. The pid and tid cycle so multi-process hashing
// and filtering tests get a spread of values.
func EventLine(id int) string {
	names := [...]string{"open", "close", "read", "write", "stat", "fsync", "lseek", "mmap"}
	return fmt.Sprintf(`{"id":%d,"name":"%s","cat":"posix","pid":%d,"tid":%d,"ts":%d,"dur":%d}`,
		id, names[id%len(names)], 1000+id%4, 100+id%8, 1700000000+id*7, 3+id%97)
}

// TraceText builds a trace payload with n events laid out the way
// real archives are: one JSON object per line, optionally wrapped in
// array brackets and comma-terminated.
func TraceText(n int, opts TraceOpts) []byte {
	var b bytes.Buffer
	if opts.Bracketed {
		b.WriteString("[\n")
	}
	for i := 0; i < n; i++ {
		b.WriteString(EventLine(opts.StartID + i))
		if opts.TrailingCommas {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	if opts.Bracketed {
		b.WriteString("]\n")
	}
	return b.Bytes()
}

// WriteTrace writes payload to dir/name and returns the full path.
func WriteTrace(t *testing.T, dir, name string, payload []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// WriteTraceGz gzips payload to dir/name and returns the full path.
// flushEvery > 0 flushes the writer after each slice of that many
// bytes, forcing extra DEFLATE block boundaries the way large real
// archives have them.
func WriteTraceGz(t *testing.T, dir, name string, payload []byte, flushEvery int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", name, err)
	}

	w := gzip.NewWriter(f)
	for off := 0; ; {
		end := len(payload)
		if flushEvery > 0 && off+flushEvery < end {
			end = off + flushEvery
		}
		if _, err := w.Write(payload[off:end]); err != nil {
			t.Fatalf("compressing %s: %v", name, err)
		}
		if flushEvery > 0 {
			if err := w.Flush(); err != nil {
				t.Fatalf("flushing %s: %v", name, err)
			}
		}
		off = end
		if off == len(payload) {
			break
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing gzip writer for %s: %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing %s: %v", name, err)
	}
	return path
}
