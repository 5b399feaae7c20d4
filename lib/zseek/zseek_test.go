// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package zseek

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// traceLines builds a deterministic trace-shaped payload: one JSON
// object per line, varied enough that DEFLATE emits multiple blocks.
func traceLines(n int) []byte {
	var b bytes.Buffer
	rng := rand.New(rand.NewSource(42))
	names := []string{"open", "close", "read", "write", "stat", "fsync"}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "{\"id\":%d,\"name\":%q,\"cat\":\"posix\",\"pid\":%d,\"tid\":%d,\"ts\":%d,\"dur\":%d}\n",
			i, names[rng.Intn(len(names))], 1000+rng.Intn(8), 100+rng.Intn(16), 1700000000+i*7, rng.Intn(5000))
	}
	return b.Bytes()
}

// gzipBytes compresses payload at the given level, calling Flush
// every flushEvery bytes when flushEvery > 0 to force extra block
// boundaries.
func gzipBytes(t *testing.T, payload []byte, level, flushEvery int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		t.Fatalf("gzip writer: %v", err)
	}
	for off := 0; off < len(payload); {
		end := len(payload)
		if flushEvery > 0 && off+flushEvery < end {
			end = off + flushEvery
		}
		if _, err := w.Write(payload[off:end]); err != nil {
			t.Fatalf("gzip write: %v", err)
		}
		if flushEvery > 0 {
			if err := w.Flush(); err != nil {
				t.Fatalf("gzip flush: %v", err)
			}
		}
		off = end
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// scanAll runs the scanner over an archive, returning the full
// decompressed output and every resume point with its decompressed
// offset.
type resumePoint struct {
	snap Snapshot
	off  int64
}

func scanAll(t *testing.T, archive []byte, bufSize int) ([]byte, []resumePoint) {
	t.Helper()
	sc, err := NewScanner(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	points := []resumePoint{{snap: sc.InitialSnapshot()}}
	var out bytes.Buffer
	buf := make([]byte, bufSize)
	for {
		n, err := sc.Read(buf)
		out.Write(buf[:n])
		if sc.AtBoundary() {
			points = append(points, resumePoint{snap: sc.Snapshot(), off: sc.Decompressed()})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
	}
	return out.Bytes(), points
}

func TestScannerMatchesGzip(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		level      int
		flushEvery int
	}{
		{"default_level", traceLines(20000), gzip.DefaultCompression, 0},
		{"flushed_blocks", traceLines(5000), gzip.DefaultCompression, 4096},
		{"stored_blocks", traceLines(2000), gzip.NoCompression, 0},
		{"best_speed", traceLines(8000), gzip.BestSpeed, 0},
		{"empty", nil, gzip.DefaultCompression, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := gzipBytes(t, tt.payload, tt.level, tt.flushEvery)
			got, _ := scanAll(t, archive, 64<<10)
			if !bytes.Equal(got, tt.payload) {
				t.Fatalf("scan output differs: got %d bytes, want %d", len(got), len(tt.payload))
			}
		})
	}
}

func TestScannerFindsBoundaries(t *testing.T) {
	payload := traceLines(20000)
	archive := gzipBytes(t, payload, gzip.DefaultCompression, 0)
	_, points := scanAll(t, archive, 64<<10)
	// The initial point is always present; a megabyte of varied text
	// must split into several blocks beyond it.
	if len(points) < 3 {
		t.Fatalf("expected several block boundaries, got %d", len(points)-1)
	}
	unaligned := 0
	for _, pt := range points[1:] {
		if pt.snap.NumBits > 0 {
			unaligned++
		}
		if pt.off > WindowSize && len(pt.snap.Window) != WindowSize {
			t.Fatalf("window at offset %d: got %d bytes, want %d", pt.off, len(pt.snap.Window), WindowSize)
		}
	}
	if unaligned == 0 {
		t.Fatal("expected at least one bit-unaligned boundary")
	}
}

func TestResumeFromEveryBoundary(t *testing.T) {
	tests := []struct {
		name       string
		level      int
		flushEvery int
		bufSize    int
	}{
		{"huffman_blocks", gzip.DefaultCompression, 0, 64 << 10},
		{"flushed_blocks", gzip.DefaultCompression, 8192, 64 << 10},
		{"stored_blocks", gzip.NoCompression, 0, 64 << 10},
		{"tiny_scan_buffer", gzip.DefaultCompression, 0, 1009},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := traceLines(12000)
			archive := gzipBytes(t, payload, tt.level, tt.flushEvery)
			got, points := scanAll(t, archive, tt.bufSize)
			if !bytes.Equal(got, payload) {
				t.Fatal("scan output differs from payload")
			}
			for i, pt := range points {
				r := bytes.NewReader(archive[pt.snap.CompressedOff:])
				rc := NewResumeReader(r, pt.snap)
				rest, err := io.ReadAll(rc)
				if err != nil {
					t.Fatalf("point %d (offset %d): resume read: %v", i, pt.off, err)
				}
				if !bytes.Equal(rest, payload[pt.off:]) {
					t.Fatalf("point %d (offset %d): resumed output differs", i, pt.off)
				}
				rc.Close()
			}
		})
	}
}

func TestScannerRejectsCorruption(t *testing.T) {
	payload := traceLines(3000)
	archive := gzipBytes(t, payload, gzip.DefaultCompression, 0)

	corrupt := func(mutate func([]byte)) []byte {
		c := append([]byte(nil), archive...)
		mutate(c)
		return c
	}

	tests := []struct {
		name    string
		archive []byte
	}{
		{"bad_magic", corrupt(func(c []byte) { c[0] = 0x42 })},
		{"bad_method", corrupt(func(c []byte) { c[2] = 7 })},
		{"flipped_body_byte", corrupt(func(c []byte) { c[len(c)/2] ^= 0xff })},
		{"flipped_crc", corrupt(func(c []byte) { c[len(c)-6] ^= 0x01 })},
		{"flipped_isize", corrupt(func(c []byte) { c[len(c)-1] ^= 0x01 })},
		{"truncated", archive[:len(archive)/2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := NewScanner(bytes.NewReader(tt.archive))
			if err != nil {
				if !errors.Is(err, ErrCorruptArchive) {
					t.Fatalf("NewScanner: got %v, want ErrCorruptArchive", err)
				}
				return
			}
			buf := make([]byte, 64<<10)
			for {
				_, err := sc.Read(buf)
				if err == nil {
					continue
				}
				if err == io.EOF {
					t.Fatal("corrupt archive scanned cleanly")
				}
				if !errors.Is(err, ErrCorruptArchive) {
					t.Fatalf("got %v, want ErrCorruptArchive", err)
				}
				return
			}
		})
	}
}

func TestBitShiftReader(t *testing.T) {
	// Bits 0..4 of the synthetic stream must be the carried bits,
	// followed by the input bits in order.
	in := []byte{0b1010_1100, 0b0101_0011}
	r := &bitShiftReader{r: bytes.NewReader(in), shift: 5, carry: 0b000_10110}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []byte{
		0b100_10110, // low 5: carry; high 3: low bits of in[0]
		0b011_10101, // low 5: high bits of in[0]; high 3: low bits of in[1]
		0b000_01010, // low 5: high bits of in[1]; rest zero padding
	}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %08b, want %08b", out, want)
	}
}

func TestWindowCodecRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	random := make([]byte, WindowSize)
	rng.Read(random)

	tests := []struct {
		name   string
		window []byte
	}{
		{"empty", nil},
		{"short_text", []byte(`{"id":1,"name":"open"}`)},
		{"full_compressible", bytes.Repeat([]byte(`{"id":9,"name":"write","dur":12}`), WindowSize/32)[:WindowSize]},
		{"full_random", random},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := EncodeWindow(tt.window)
			got, err := DecodeWindow(blob)
			if err != nil {
				t.Fatalf("DecodeWindow: %v", err)
			}
			if !bytes.Equal(got, tt.window) {
				t.Fatal("window round trip differs")
			}
			if len(tt.window) == WindowSize && tt.name == "full_compressible" && len(blob) >= WindowSize {
				t.Fatalf("compressible window did not shrink: %d bytes", len(blob))
			}
		})
	}
}

func TestWindowCodecRejectsCorruption(t *testing.T) {
	window := bytes.Repeat([]byte(`{"id":3,"name":"read","dur":8}`), 1024)
	blob := EncodeWindow(window)

	// Flip one byte in every region of the blob: tag, length,
	// checksum, payload. All must fail to decode.
	for _, pos := range []int{0, 2, 6, windowHeaderLen + 1, len(blob) - 1} {
		c := append([]byte(nil), blob...)
		c[pos] ^= 0x01
		if _, err := DecodeWindow(c); err == nil {
			t.Fatalf("flipped byte %d decoded cleanly", pos)
		}
	}
	if _, err := DecodeWindow(blob[:5]); err == nil {
		t.Fatal("truncated blob decoded cleanly")
	}
}
