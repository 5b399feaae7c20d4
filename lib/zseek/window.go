// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package zseek

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// CompressionTag identifies the algorithm a snapshot window was
// stored with. Tags are the first byte of every encoded window blob.
// These values are format constants — changing them invalidates every
// existing catalog.
type CompressionTag uint8

const (
	// CompressionNone stores the window verbatim. Chosen when the
	// window is empty or does not shrink under either codec.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 stores an LZ4 block. Fast decode on the ranged
	// read path at a modest ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd stores a zstd frame. Trace windows are JSON
	// text, which zstd typically shrinks 4-6x.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// Encoded window layout:
//
//	[0]     CompressionTag
//	[1:5]   uint32 LE  raw window length
//	[5:13]  uint64 LE  BLAKE3 checksum of the raw window (first 8 bytes)
//	[13:]   payload
//
// The checksum is over the decompressed window, so a blob that decodes
// cleanly but to the wrong bytes is still rejected. Without it a
// flipped bit in an uncompressed window would resume the decoder with
// silently wrong history.
const windowHeaderLen = 13

// zstdEncoder and zstdDecoder are shared across calls. Both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("zseek: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("zseek: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeWindow serializes a snapshot window for storage. It tries
// both codecs and keeps whichever payload is smallest, falling back
// to the raw bytes when neither shrinks them.
func EncodeWindow(window []byte) []byte {
	tag, payload := CompressionNone, window

	if len(window) > 0 {
		if z := zstdEncoder.EncodeAll(window, nil); len(z) < len(payload) {
			tag, payload = CompressionZstd, z
		}
		bound := lz4.CompressBlockBound(len(window))
		dst := make([]byte, bound)
		if n, err := lz4.CompressBlock(window, dst, nil); err == nil && n > 0 && n < len(payload) {
			tag, payload = CompressionLZ4, dst[:n]
		}
	}

	blob := make([]byte, windowHeaderLen+len(payload))
	blob[0] = byte(tag)
	binary.LittleEndian.PutUint32(blob[1:5], uint32(len(window)))
	sum := blake3.Sum256(window)
	copy(blob[5:13], sum[:8])
	copy(blob[windowHeaderLen:], payload)
	return blob
}

// DecodeWindow reverses EncodeWindow. Any inconsistency — short blob,
// unknown tag, codec failure, length or checksum mismatch — is an
// error; callers treat that as a corrupt catalog.
func DecodeWindow(blob []byte) ([]byte, error) {
	if len(blob) < windowHeaderLen {
		return nil, fmt.Errorf("window blob truncated: %d bytes", len(blob))
	}
	tag := CompressionTag(blob[0])
	rawLen := int(binary.LittleEndian.Uint32(blob[1:5]))
	if rawLen > WindowSize {
		return nil, fmt.Errorf("window length %d exceeds maximum %d", rawLen, WindowSize)
	}
	payload := blob[windowHeaderLen:]

	var window []byte
	switch tag {
	case CompressionNone:
		if len(payload) != rawLen {
			return nil, fmt.Errorf("uncompressed window: have %d bytes, header says %d", len(payload), rawLen)
		}
		window = payload

	case CompressionLZ4:
		window = make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, window)
		if err != nil {
			return nil, fmt.Errorf("lz4 window: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("lz4 window: got %d bytes, header says %d", n, rawLen)
		}

	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("zstd window: %w", err)
		}
		if len(decoded) != rawLen {
			return nil, fmt.Errorf("zstd window: got %d bytes, header says %d", len(decoded), rawLen)
		}
		window = decoded

	default:
		return nil, fmt.Errorf("unknown window compression tag %d", blob[0])
	}

	sum := blake3.Sum256(window)
	if string(sum[:8]) != string(blob[5:13]) {
		return nil, fmt.Errorf("window checksum mismatch")
	}
	return window, nil
}
