// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package zseek

import "fmt"

// maxCodeBits is the longest Huffman code DEFLATE permits.
const maxCodeBits = 15

// huffman is a canonical Huffman decoding table: code counts per bit
// length plus the symbols sorted by (length, symbol). Decoding walks
// the lengths from short to long, which is compact and needs no
// precomputed lookup table; the scanner only runs during indexing, so
// clarity wins over raw decode speed.
type huffman struct {
	count  [maxCodeBits + 1]uint16
	symbol []uint16
}

// buildHuffman constructs a decoding table from the per-symbol code
// lengths. A zero length means the symbol is unused. Over-subscribed
// length sets (more codes than the bit space allows) are rejected;
// incomplete sets are accepted, as DEFLATE streams legitimately emit
// them for sparse distance alphabets.
func buildHuffman(lengths []uint8) (*huffman, error) {
	h := &huffman{symbol: make([]uint16, 0, len(lengths))}

	for _, length := range lengths {
		if length > maxCodeBits {
			return nil, fmt.Errorf("code length %d exceeds %d", length, maxCodeBits)
		}
		h.count[length]++
	}
	if int(h.count[0]) == len(lengths) {
		return nil, fmt.Errorf("no symbols have codes")
	}
	h.count[0] = 0

	// Check that no bit length is over-subscribed.
	left := 1
	for length := 1; length <= maxCodeBits; length++ {
		left <<= 1
		left -= int(h.count[length])
		if left < 0 {
			return nil, fmt.Errorf("over-subscribed code lengths")
		}
	}

	// Offset of the first symbol of each length within the sorted
	// symbol table.
	var offset [maxCodeBits + 1]uint16
	for length := 1; length < maxCodeBits; length++ {
		offset[length+1] = offset[length] + h.count[length]
	}

	h.symbol = h.symbol[:len(lengths)]
	for sym, length := range lengths {
		if length != 0 {
			h.symbol[offset[length]] = uint16(sym)
			offset[length]++
		}
	}
	return h, nil
}

// Fixed-mode tables (RFC 1951 section 3.2.6), built once.
var (
	fixedLit  *huffman
	fixedDist *huffman
)

func init() {
	litLengths := make([]uint8, 288)
	for i := range litLengths {
		switch {
		case i < 144:
			litLengths[i] = 8
		case i < 256:
			litLengths[i] = 9
		case i < 280:
			litLengths[i] = 7
		default:
			litLengths[i] = 8
		}
	}
	distLengths := make([]uint8, 30)
	for i := range distLengths {
		distLengths[i] = 5
	}

	var err error
	if fixedLit, err = buildHuffman(litLengths); err != nil {
		panic("zseek: fixed literal table: " + err.Error())
	}
	if fixedDist, err = buildHuffman(distLengths); err != nil {
		panic("zseek: fixed distance table: " + err.Error())
	}
}

// Length and distance symbol expansions (RFC 1951 section 3.2.5).
var (
	lengthBase = [29]uint16{
		3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
		35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
	}
	lengthExtra = [29]uint8{
		0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
	}
	distBase = [30]uint16{
		1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
		257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145,
		8193, 12289, 16385, 24577,
	}
	distExtra = [30]uint8{
		0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
		7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
	}

	// Order in which code lengths for the code-length alphabet are
	// stored in a dynamic block header.
	codeLengthOrder = [19]uint8{
		16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15,
	}
)
