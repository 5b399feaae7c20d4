// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package zseek

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// ErrCorruptArchive reports that the compressed input violates the
// gzip or DEFLATE format: bad magic, malformed block, impossible
// back-reference, or a trailer checksum mismatch.
var ErrCorruptArchive = errors.New("zseek: corrupt archive")

type scanMode uint8

const (
	modeBetweenBlocks scanMode = iota
	modeStored
	modeHuffman
)

// Scanner decompresses a single gzip member while tracking the exact
// bit position of the decoder, the sliding window, and the running
// CRC. After any Read that stopped at an inter-block boundary,
// AtBoundary reports true and Snapshot captures a resume point.
//
// Read may return (0, nil) when a block produced no output; callers
// are expected to treat that as "check AtBoundary, then call again".
// The gzip trailer (CRC32 and length) is verified before the final
// io.EOF; concatenated members after the first are not consumed.
type Scanner struct {
	r *bufio.Reader

	headerLen int64 // compressed bytes consumed by the gzip header
	bytesFed  int64 // compressed bytes fed into the bit buffer
	bitBuf    uint64
	bitCount  uint

	window [WindowSize]byte
	wpos   int
	total  int64 // decompressed bytes produced

	crc uint32

	mode       scanMode
	curFinal   bool // current block carries BFINAL
	finalDone  bool // the final block has been fully decoded
	atBoundary bool

	// Stored-block progress.
	storedLeft int

	// Huffman-block tables and pending match copy carried across
	// Read calls when the caller's buffer fills mid-match.
	lit      *huffman
	dist     *huffman
	copyLen  int
	copyDist int

	trailerDone bool
	err         error
}

// NewScanner parses the gzip header from r and returns a Scanner
// positioned at the first DEFLATE block. The reader should be
// positioned at the start of the archive.
func NewScanner(r io.Reader) (*Scanner, error) {
	sc := &Scanner{r: bufio.NewReaderSize(r, 1<<16), mode: modeBetweenBlocks}
	if err := sc.readHeader(); err != nil {
		return nil, err
	}
	return sc, nil
}

// readHeader consumes the RFC 1952 member header, tracking its length
// so snapshot offsets are absolute file offsets.
func (sc *Scanner) readHeader() error {
	fixed := make([]byte, 10)
	if _, err := io.ReadFull(sc.r, fixed); err != nil {
		return sc.headerErr(err)
	}
	sc.headerLen = 10
	if fixed[0] != 0x1f || fixed[1] != 0x8b {
		return fmt.Errorf("%w: bad gzip magic %02x %02x", ErrCorruptArchive, fixed[0], fixed[1])
	}
	if fixed[2] != 8 {
		return fmt.Errorf("%w: unsupported compression method %d", ErrCorruptArchive, fixed[2])
	}
	flags := fixed[3]

	const (
		flagHeaderCRC = 1 << 1
		flagExtra     = 1 << 2
		flagName      = 1 << 3
		flagComment   = 1 << 4
	)

	if flags&flagExtra != 0 {
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(sc.r, lenBytes); err != nil {
			return sc.headerErr(err)
		}
		extraLen := int64(binary.LittleEndian.Uint16(lenBytes))
		if _, err := io.CopyN(io.Discard, sc.r, extraLen); err != nil {
			return sc.headerErr(err)
		}
		sc.headerLen += 2 + extraLen
	}
	for _, present := range []bool{flags&flagName != 0, flags&flagComment != 0} {
		if !present {
			continue
		}
		for {
			b, err := sc.r.ReadByte()
			if err != nil {
				return sc.headerErr(err)
			}
			sc.headerLen++
			if b == 0 {
				break
			}
		}
	}
	if flags&flagHeaderCRC != 0 {
		if _, err := io.CopyN(io.Discard, sc.r, 2); err != nil {
			return sc.headerErr(err)
		}
		sc.headerLen += 2
	}
	return nil
}

func (sc *Scanner) headerErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: truncated gzip header", ErrCorruptArchive)
	}
	return fmt.Errorf("zseek: reading gzip header: %w", err)
}

// need tops the bit buffer up to at least count bits.
func (sc *Scanner) need(count uint) error {
	for sc.bitCount < count {
		b, err := sc.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("%w: truncated deflate stream", ErrCorruptArchive)
			}
			return fmt.Errorf("zseek: reading compressed data: %w", err)
		}
		sc.bitBuf |= uint64(b) << sc.bitCount
		sc.bitCount += 8
		sc.bytesFed++
	}
	return nil
}

// take removes count bits from the buffer. The caller must have
// ensured availability with need.
func (sc *Scanner) take(count uint) uint32 {
	v := uint32(sc.bitBuf) & (1<<count - 1)
	sc.bitBuf >>= count
	sc.bitCount -= count
	return v
}

// alignByte drops the remainder of a partially consumed byte, as
// required before stored-block headers and the member trailer.
func (sc *Scanner) alignByte() {
	drop := sc.bitCount % 8
	sc.bitBuf >>= drop
	sc.bitCount -= drop
}

// decodeSymbol reads one Huffman-coded symbol bit by bit, walking the
// canonical code space from short codes to long.
func (sc *Scanner) decodeSymbol(h *huffman) (int, error) {
	code, first, index := 0, 0, 0
	for length := 1; length <= maxCodeBits; length++ {
		if err := sc.need(1); err != nil {
			return 0, err
		}
		code |= int(sc.take(1))
		count := int(h.count[length])
		if code-first < count {
			return int(h.symbol[index+code-first]), nil
		}
		index += count
		first = (first + count) << 1
		code <<= 1
	}
	return 0, fmt.Errorf("%w: invalid huffman code", ErrCorruptArchive)
}

// beginBlock reads the three-bit block header and prepares per-block
// decoding state.
func (sc *Scanner) beginBlock() error {
	if err := sc.need(3); err != nil {
		return err
	}
	sc.curFinal = sc.take(1) == 1
	blockType := sc.take(2)

	switch blockType {
	case 0: // stored
		sc.alignByte()
		if err := sc.need(32); err != nil {
			return err
		}
		length := sc.take(16)
		inverse := sc.take(16)
		if length != ^inverse&0xffff {
			return fmt.Errorf("%w: stored block length check failed", ErrCorruptArchive)
		}
		sc.storedLeft = int(length)
		sc.mode = modeStored

	case 1: // fixed Huffman
		sc.lit, sc.dist = fixedLit, fixedDist
		sc.mode = modeHuffman

	case 2: // dynamic Huffman
		if err := sc.readDynamicTables(); err != nil {
			return err
		}
		sc.mode = modeHuffman

	default:
		return fmt.Errorf("%w: reserved block type", ErrCorruptArchive)
	}
	return nil
}

// readDynamicTables decodes the code-length, literal/length, and
// distance tables of a dynamic block (RFC 1951 section 3.2.7).
func (sc *Scanner) readDynamicTables() error {
	if err := sc.need(14); err != nil {
		return err
	}
	numLit := int(sc.take(5)) + 257
	numDist := int(sc.take(5)) + 1
	numCodeLen := int(sc.take(4)) + 4
	if numLit > 286 || numDist > 30 {
		return fmt.Errorf("%w: dynamic block table sizes %d/%d", ErrCorruptArchive, numLit, numDist)
	}

	var clLengths [19]uint8
	for i := 0; i < numCodeLen; i++ {
		if err := sc.need(3); err != nil {
			return err
		}
		clLengths[codeLengthOrder[i]] = uint8(sc.take(3))
	}
	clTable, err := buildHuffman(clLengths[:])
	if err != nil {
		return fmt.Errorf("%w: code-length table: %v", ErrCorruptArchive, err)
	}

	lengths := make([]uint8, numLit+numDist)
	for i := 0; i < len(lengths); {
		sym, err := sc.decodeSymbol(clTable)
		if err != nil {
			return err
		}
		switch {
		case sym < 16:
			lengths[i] = uint8(sym)
			i++
		case sym == 16:
			if i == 0 {
				return fmt.Errorf("%w: repeat with no previous length", ErrCorruptArchive)
			}
			if err := sc.need(2); err != nil {
				return err
			}
			repeat := int(sc.take(2)) + 3
			if i+repeat > len(lengths) {
				return fmt.Errorf("%w: length repeat overruns table", ErrCorruptArchive)
			}
			prev := lengths[i-1]
			for ; repeat > 0; repeat-- {
				lengths[i] = prev
				i++
			}
		case sym == 17:
			if err := sc.need(3); err != nil {
				return err
			}
			repeat := int(sc.take(3)) + 3
			if i+repeat > len(lengths) {
				return fmt.Errorf("%w: zero repeat overruns table", ErrCorruptArchive)
			}
			i += repeat
		default: // 18
			if err := sc.need(7); err != nil {
				return err
			}
			repeat := int(sc.take(7)) + 11
			if i+repeat > len(lengths) {
				return fmt.Errorf("%w: zero repeat overruns table", ErrCorruptArchive)
			}
			i += repeat
		}
	}

	if sc.lit, err = buildHuffman(lengths[:numLit]); err != nil {
		return fmt.Errorf("%w: literal table: %v", ErrCorruptArchive, err)
	}
	if sc.dist, err = buildHuffman(lengths[numLit:]); err != nil {
		return fmt.Errorf("%w: distance table: %v", ErrCorruptArchive, err)
	}
	return nil
}

// Read decompresses into p. It returns early, without filling p, when
// a DEFLATE block ends: if the finished block was not the final one,
// AtBoundary reports true until the next Read. At the end of the
// member it validates the trailer and returns io.EOF.
func (sc *Scanner) Read(p []byte) (int, error) {
	if sc.err != nil {
		return 0, sc.err
	}
	sc.atBoundary = false
	if len(p) == 0 {
		return 0, nil
	}

	n := 0
	for {
		if sc.mode == modeBetweenBlocks {
			if sc.finalDone {
				if !sc.trailerDone {
					if err := sc.checkTrailer(); err != nil {
						sc.err = err
						return sc.flush(n)
					}
					sc.trailerDone = true
				}
				sc.err = io.EOF
				return sc.flush(n)
			}
			if err := sc.beginBlock(); err != nil {
				sc.err = err
				return sc.flush(n)
			}
		}

		produced, err := sc.inflateInto(p[n:])
		if produced > 0 {
			sc.crc = crc32.Update(sc.crc, crc32.IEEETable, p[n:n+produced])
			n += produced
		}
		if err != nil {
			sc.err = err
			return sc.flush(n)
		}
		if sc.mode == modeBetweenBlocks && !sc.finalDone {
			// Stopped exactly between blocks: a resume point.
			sc.atBoundary = true
			return n, nil
		}
		if n == len(p) {
			return n, nil
		}
	}
}

// flush returns buffered output before surfacing a stored error, per
// the io.Reader contract.
func (sc *Scanner) flush(n int) (int, error) {
	if n > 0 {
		return n, nil
	}
	return 0, sc.err
}

// inflateInto continues the current block, stopping when p fills or
// the block ends. Produced bytes are mirrored into the window.
func (sc *Scanner) inflateInto(p []byte) (int, error) {
	n := 0
	emit := func(b byte) {
		p[n] = b
		n++
		sc.window[sc.wpos] = b
		sc.wpos = (sc.wpos + 1) % WindowSize
		sc.total++
	}

	if sc.mode == modeStored {
		for sc.storedLeft > 0 && n < len(p) {
			if err := sc.need(8); err != nil {
				return n, err
			}
			emit(byte(sc.take(8)))
			sc.storedLeft--
		}
		if sc.storedLeft == 0 {
			sc.endBlock()
		}
		return n, nil
	}

	// Huffman block: finish any match copy cut short by a full
	// buffer on the previous call, then resume symbol decoding.
	for sc.copyLen > 0 && n < len(p) {
		src := (sc.wpos - sc.copyDist + WindowSize) % WindowSize
		emit(sc.window[src])
		sc.copyLen--
	}
	if n == len(p) {
		return n, nil
	}

	for n < len(p) {
		sym, err := sc.decodeSymbol(sc.lit)
		if err != nil {
			return n, err
		}
		switch {
		case sym < 256:
			emit(byte(sym))

		case sym == 256:
			sc.endBlock()
			return n, nil

		default:
			sym -= 257
			if sym >= len(lengthBase) {
				return n, fmt.Errorf("%w: invalid length symbol", ErrCorruptArchive)
			}
			if err := sc.need(uint(lengthExtra[sym])); err != nil {
				return n, err
			}
			length := int(lengthBase[sym]) + int(sc.take(uint(lengthExtra[sym])))

			distSym, err := sc.decodeSymbol(sc.dist)
			if err != nil {
				return n, err
			}
			if distSym >= len(distBase) {
				return n, fmt.Errorf("%w: invalid distance symbol", ErrCorruptArchive)
			}
			if err := sc.need(uint(distExtra[distSym])); err != nil {
				return n, err
			}
			distance := int(distBase[distSym]) + int(sc.take(uint(distExtra[distSym])))
			if int64(distance) > sc.total {
				return n, fmt.Errorf("%w: back-reference before start of output", ErrCorruptArchive)
			}

			// Copy what fits now; inflateInto resumes the rest on
			// the next call. Byte-at-a-time handles overlapping
			// references (distance < length) by construction.
			sc.copyLen, sc.copyDist = length, distance
			for sc.copyLen > 0 && n < len(p) {
				src := (sc.wpos - sc.copyDist + WindowSize) % WindowSize
				emit(sc.window[src])
				sc.copyLen--
			}
		}
	}
	return n, nil
}

func (sc *Scanner) endBlock() {
	sc.mode = modeBetweenBlocks
	if sc.curFinal {
		sc.finalDone = true
	}
}

// checkTrailer validates the member CRC32 and modular length.
func (sc *Scanner) checkTrailer() error {
	sc.alignByte()
	if err := sc.need(32); err != nil {
		return err
	}
	wantCRC := sc.take(32)
	if err := sc.need(32); err != nil {
		return err
	}
	wantLen := sc.take(32)

	if wantCRC != sc.crc {
		return fmt.Errorf("%w: CRC32 mismatch: stored %08x, computed %08x", ErrCorruptArchive, wantCRC, sc.crc)
	}
	if wantLen != uint32(sc.total) {
		return fmt.Errorf("%w: length mismatch: stored %d, produced %d (mod 2^32)", ErrCorruptArchive, wantLen, uint32(sc.total))
	}
	return nil
}

// Decompressed returns the number of decompressed bytes produced so
// far.
func (sc *Scanner) Decompressed() int64 {
	return sc.total
}

// AtBoundary reports whether the previous Read stopped exactly at an
// inter-block boundary with more blocks to come. Only then is
// Snapshot meaningful.
func (sc *Scanner) AtBoundary() bool {
	return sc.atBoundary
}

// InitialSnapshot is the resume point before any decompressed output:
// the first byte past the gzip header, with no pending bits and no
// window. It is valid as soon as NewScanner returns.
func (sc *Scanner) InitialSnapshot() Snapshot {
	return Snapshot{CompressedOff: sc.headerLen}
}

// Snapshot captures the resume point for the boundary the scanner is
// currently stopped at. The returned window is a copy.
func (sc *Scanner) Snapshot() Snapshot {
	consumed := 8*sc.bytesFed - int64(sc.bitCount)
	numBits := uint8(sc.bitCount % 8)

	snap := Snapshot{
		CompressedOff: sc.headerLen + consumed/8,
		NumBits:       numBits,
	}
	if numBits > 0 {
		// The byte holding the pending bits was already taken from
		// the input; resume starts at the byte after it.
		snap.CompressedOff++
		snap.Bits = uint8(sc.bitBuf) & (1<<numBits - 1)
	}

	if sc.total >= WindowSize {
		window := make([]byte, WindowSize)
		copy(window, sc.window[sc.wpos:])
		copy(window[WindowSize-sc.wpos:], sc.window[:sc.wpos])
		snap.Window = window
	} else {
		snap.Window = append([]byte(nil), sc.window[:sc.total]...)
	}
	return snap
}
