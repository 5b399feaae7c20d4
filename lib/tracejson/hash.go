// Copyright 2026 The Tracekit Authors
// SPDX-License-Identifier: Apache-2.0

package tracejson

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"
)

// eventSetKey is the BLAKE3 domain key for the event-set hash. It is
// a fixed constant — changing it breaks comparability with every
// previously reported hash. The bytes are the ASCII domain name,
// zero-padded to the 32 bytes keyed BLAKE3 requires.
var eventSetKey = [32]byte{
	't', 'r', 'a', 'c', 'e', 'k', 'i', 't', '.', 'e', 'v', 'e', 'n', 't', 's', '.',
	'v', '1', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// SortEvents orders events ascending by (id, pid, tid) in place.
func SortEvents(events []EventID) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Less(events[j])
	})
}

// HashEvents computes the order-insensitive 64-bit digest of an event
// multiset: the events are sorted by (id, pid, tid) and their triples
// fed into a keyed BLAKE3 hash as little-endian 24-byte records. Two
// event collections hash equal exactly when they contain the same
// events with the same multiplicities, regardless of the order they
// were gathered in.
//
// The caller's slice is sorted in place; pass a copy to preserve
// collection order.
func HashEvents(events []EventID) uint64 {
	SortEvents(events)

	hasher, err := blake3.NewKeyed(eventSetKey[:])
	if err != nil {
		panic("tracejson: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var record [24]byte
	for _, e := range events {
		binary.LittleEndian.PutUint64(record[0:8], uint64(e.ID))
		binary.LittleEndian.PutUint64(record[8:16], uint64(e.PID))
		binary.LittleEndian.PutUint64(record[16:24], uint64(e.TID))
		hasher.Write(record[:])
	}
	return binary.BigEndian.Uint64(hasher.Sum(nil)[:8])
}
