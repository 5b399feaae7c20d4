// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package gzstream

import (
	"context"
	"fmt"
	"io"

	"github.com/tracekit/tracekit/lib/catalog"
)

// CheckIndex proves every checkpoint of the archive's catalog entry
// is usable: the stored window decodes, a decoder primes from the
// snapshot, and it produces output. It reads a few hundred bytes per
// checkpoint, so it is cheap even for large archives, and it catches
// the failure an ordinary ranged read would only hit when it happened
// to land on the damaged checkpoint.
func (r *Reader) CheckIndex(ctx context.Context) error {
	cks, err := r.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if len(cks) == 0 {
		return fmt.Errorf("%w: no checkpoints recorded", catalog.ErrCorruptIndex)
	}
	buf := make([]byte, 512)
	for _, ck := range cks {
		src, err := r.prime(ck, 0)
		if err != nil {
			return fmt.Errorf("checkpoint %d at offset %d: %w", ck.Index, ck.DecompressedOff, err)
		}
		n, err := src.sc.Read(buf)
		src.close()
		if err != nil && err != io.EOF {
			return fmt.Errorf("checkpoint %d at offset %d: %w", ck.Index, ck.DecompressedOff, err)
		}
		if n == 0 && ck.DecompressedOff < r.file.SizeDecompressed {
			return fmt.Errorf("%w: checkpoint %d at offset %d resumed to an empty stream",
				catalog.ErrCorruptIndex, ck.Index, ck.DecompressedOff)
		}
	}
	return nil
}
