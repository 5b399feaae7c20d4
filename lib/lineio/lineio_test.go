// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package lineio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.pfw")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func collect(t *testing.T, it *Iterator) []Line {
	t.Helper()
	defer it.Close()
	var lines []Line
	for {
		line, err := it.Next()
		if err == io.EOF {
			return lines
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		// Content is borrowed; keep a copy for assertions.
		lines = append(lines, Line{Number: line.Number, Content: append([]byte(nil), line.Content...)})
	}
}

func TestScannerSplitsAcrossRefills(t *testing.T) {
	// A 7-byte buffer forces every line to straddle refills.
	input := "alpha\nbravo charlie\ndelta\necho"
	sc := NewScanner(strings.NewReader(input), 7)

	var got []string
	var offsets []int64
	for {
		line, err := sc.NextLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextLine: %v", err)
		}
		got = append(got, string(line))
		offsets = append(offsets, sc.Offset())
	}
	want := []string{"alpha\n", "bravo charlie\n", "delta\n", "echo"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("line %d: got %v, want %v", i, got, want)
		}
	}
	wantOff := []int64{6, 20, 26, 30}
	for i := range wantOff {
		if offsets[i] != wantOff[i] {
			t.Fatalf("offset after line %d: got %d, want %d", i, offsets[i], wantOff[i])
		}
	}
	if _, err := sc.NextLine(); err != io.EOF {
		t.Fatalf("after end: got %v, want io.EOF", err)
	}
}

func TestScannerSkipAndDiscard(t *testing.T) {
	input := "one\ntwo\nthree\nfour\n"
	sc := NewScanner(strings.NewReader(input), 5)

	n, err := sc.SkipLine()
	if err != nil || n != 4 {
		t.Fatalf("SkipLine: got (%d, %v), want (4, nil)", n, err)
	}
	if err := sc.Discard(4); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	line, err := sc.NextLine()
	if err != nil || string(line) != "three\n" {
		t.Fatalf("after skip+discard: got (%q, %v)", line, err)
	}
	if sc.Offset() != 14 {
		t.Fatalf("offset: got %d, want 14", sc.Offset())
	}
	if err := sc.Discard(100); err != io.ErrUnexpectedEOF {
		t.Fatalf("Discard past end: got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestScannerSkipLineUnterminated(t *testing.T) {
	sc := NewScanner(strings.NewReader("no newline here"), 0)
	if _, err := sc.SkipLine(); err != io.ErrUnexpectedEOF {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
	sc = NewScanner(strings.NewReader(""), 0)
	if _, err := sc.SkipLine(); err != io.EOF {
		t.Fatalf("empty: got %v, want io.EOF", err)
	}
}

func TestScannerReadInterleaved(t *testing.T) {
	input := "header\n0123456789\ntail\n"
	sc := NewScanner(strings.NewReader(input), 8)
	if line, err := sc.NextLine(); err != nil || string(line) != "header\n" {
		t.Fatalf("header: got (%q, %v)", line, err)
	}
	raw := make([]byte, 11)
	if _, err := io.ReadFull(sc, raw); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(raw) != "0123456789\n" {
		t.Fatalf("raw: got %q", raw)
	}
	if line, err := sc.NextLine(); err != nil || string(line) != "tail\n" {
		t.Fatalf("tail: got (%q, %v)", line, err)
	}
	if sc.Offset() != int64(len(input)) {
		t.Fatalf("offset: got %d, want %d", sc.Offset(), len(input))
	}
}

func TestIteratorWholeFile(t *testing.T) {
	path := writeFile(t, "{\"id\":1}\n{\"id\":2}\n{\"id\":3}")
	it, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	lines := collect(t, it)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	for i, line := range lines {
		if line.Number != int64(i+1) {
			t.Fatalf("line %d numbered %d", i, line.Number)
		}
		if bytes.ContainsRune(line.Content, '\n') {
			t.Fatalf("line %d contains newline: %q", i, line.Content)
		}
	}
	if string(lines[2].Content) != `{"id":3}` {
		t.Fatalf("unterminated final line: got %q", lines[2].Content)
	}
}

func TestIteratorLineRange(t *testing.T) {
	path := writeFile(t, "l1\nl2\nl3\nl4\nl5\n")

	tests := []struct {
		name       string
		start, end int64
		want       []string
		wantFirst  int64
	}{
		{"middle", 2, 4, []string{"l2", "l3", "l4"}, 2},
		{"open_end", 4, -1, []string{"l4", "l5"}, 4},
		{"single", 3, 3, []string{"l3"}, 3},
		{"past_eof", 9, -1, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := OpenLineRange(path, tt.start, tt.end)
			if err != nil {
				t.Fatalf("OpenLineRange: %v", err)
			}
			lines := collect(t, it)
			if len(lines) != len(tt.want) {
				t.Fatalf("got %d lines, want %d", len(lines), len(tt.want))
			}
			for i, want := range tt.want {
				if string(lines[i].Content) != want {
					t.Fatalf("line %d: got %q, want %q", i, lines[i].Content, want)
				}
			}
			if len(lines) > 0 && lines[0].Number != tt.wantFirst {
				t.Fatalf("first line numbered %d, want %d", lines[0].Number, tt.wantFirst)
			}
		})
	}

	if _, err := OpenLineRange(path, 0, 2); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("start 0: got %v, want ErrInvalidRange", err)
	}
	if _, err := OpenLineRange(path, 3, 2); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("inverted: got %v, want ErrInvalidRange", err)
	}
}

func TestIteratorByteRange(t *testing.T) {
	// Offsets:            0    5    10   15
	content := "aaaa\nbbbb\ncccc\ndddd\n"
	path := writeFile(t, content)

	tests := []struct {
		name       string
		start, end int64
		want       []string
	}{
		{"from_zero", 0, -1, []string{"aaaa", "bbbb", "cccc", "dddd"}},
		{"start_on_boundary", 5, -1, []string{"bbbb", "cccc", "dddd"}},
		{"start_mid_line", 6, -1, []string{"cccc", "dddd"}},
		{"start_on_newline", 4, -1, []string{"bbbb", "cccc", "dddd"}},
		{"end_mid_line_owns_it", 0, 12, []string{"aaaa", "bbbb", "cccc"}},
		{"end_on_boundary_excludes", 5, 10, []string{"bbbb"}},
		{"empty_window", 6, 7, nil},
		{"past_eof", 25, -1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := OpenByteRange(path, tt.start, tt.end)
			if err != nil {
				t.Fatalf("OpenByteRange: %v", err)
			}
			lines := collect(t, it)
			if len(lines) != len(tt.want) {
				t.Fatalf("got %d lines (%q), want %d", len(lines), lines, len(tt.want))
			}
			for i, want := range tt.want {
				if string(lines[i].Content) != want {
					t.Fatalf("line %d: got %q, want %q", i, lines[i].Content, want)
				}
			}
		})
	}

	if _, err := OpenByteRange(path, -1, 5); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("negative start: got %v, want ErrInvalidRange", err)
	}
	if _, err := OpenByteRange(path, 9, 3); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("inverted: got %v, want ErrInvalidRange", err)
	}
}

func TestIteratorByteRangeNumbers(t *testing.T) {
	path := writeFile(t, "aaaa\nbbbb\ncccc\n")

	it, err := OpenByteRange(path, 0, -1)
	if err != nil {
		t.Fatalf("OpenByteRange: %v", err)
	}
	lines := collect(t, it)
	if lines[0].Number != 1 || lines[2].Number != 3 {
		t.Fatalf("from zero, numbers should be absolute: %v", lines)
	}

	it, err = OpenByteRange(path, 5, -1)
	if err != nil {
		t.Fatalf("OpenByteRange: %v", err)
	}
	lines = collect(t, it)
	for _, line := range lines {
		if line.Number != 0 {
			t.Fatalf("mid-file byte range cannot know numbers, got %d", line.Number)
		}
	}
}

// flakyReaderAt fails every read of an offset the first failures
// times it is attempted, then serves it from the backing slice.
type flakyReaderAt struct {
	data     []byte
	failures int
	attempts map[int64]int
}

func (f *flakyReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if f.attempts == nil {
		f.attempts = make(map[int64]int)
	}
	f.attempts[off]++
	if f.attempts[off] <= f.failures {
		return 0, errors.New("transient read failure")
	}
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if off+int64(n) == int64(len(f.data)) {
		return n, io.EOF
	}
	return n, nil
}

func TestRetryReaderRecovers(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	r := NewRetryReader(&flakyReaderAt{data: payload, failures: 2}, 0, 2)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestRetryReaderExhausted(t *testing.T) {
	r := NewRetryReader(&flakyReaderAt{data: []byte("abc"), failures: 5}, 0, 2)
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("read succeeded despite persistent failures")
	}
}

func TestRetryReaderOffset(t *testing.T) {
	payload := []byte("0123456789")
	r := NewRetryReader(bytes.NewReader(payload), 4, 0)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "456789" {
		t.Fatalf("got %q, want suffix from offset 4", got)
	}
	if r.Offset() != int64(len(payload)) {
		t.Fatalf("Offset: got %d, want %d", r.Offset(), len(payload))
	}
}
