// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package gzstream

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/tracekit/tracekit/lib/lineio"
	"github.com/tracekit/tracekit/lib/zseek"
)

// ArchiveScan reads every line of a gzip archive front to back with
// no catalog. It serves the places an index would be wasted: exact
// event counting over a directory, and inspecting archives that have
// not been indexed yet. Ranged access goes through [Reader] instead.
//
// Like the indexed paths, a scan covers only the first gzip member of
// the file.
type ArchiveScan struct {
	f     *os.File
	zr    *gzip.Reader
	sc    *lineio.Scanner
	next  int64
	fault error
}

// OpenScan opens a full sequential scan over the archive at path.
func OpenScan(path string) (*ArchiveScan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	lineio.AdviseSequential(f)
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", zseek.ErrCorruptArchive, path, err)
	}
	zr.Multistream(false)
	return &ArchiveScan{f: f, zr: zr, sc: lineio.NewScanner(zr, 0), next: 1}, nil
}

// Next returns the next line of the archive, or io.EOF at the end.
// Content is valid until the next call on the scan.
func (a *ArchiveScan) Next() (lineio.Line, error) {
	if a.fault != nil {
		return lineio.Line{}, a.fault
	}
	raw, err := a.sc.NextLine()
	if err != nil {
		if err != io.EOF {
			err = fmt.Errorf("%w: %v", zseek.ErrCorruptArchive, err)
		}
		a.fault = err
		return lineio.Line{}, err
	}
	line := lineio.Line{Number: a.next, Content: trimNL(raw)}
	a.next++
	return line, nil
}

// Close releases the archive file handle.
func (a *ArchiveScan) Close() error {
	a.zr.Close()
	return a.f.Close()
}
