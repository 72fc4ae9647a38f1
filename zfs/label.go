// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/Error1000/szfs/internal/parsebuf"
)

// Uberblock is the root of the object graph for one transaction group,
// replicated in a ring inside every device label.
type Uberblock struct {
	Magic    uint64
	Version  uint64
	TXG      uint64
	GUIDSum  uint64
	Timestamp uint64
	RootBP   BlockPointer
}

// Valid reports whether the uberblock's magic matches the expected
// little-endian constant. A byte-swapped magic (a big-endian pool) is not
// told apart from any other mismatch: ParseUberblock skips such a slot.
func (u Uberblock) Valid() bool {
	return u.Magic == UberblockMagic
}

// ParseUberblock decodes one uberblock-ring slot. It returns ok=false
// (never an error) when the slot's magic does not match, since an empty or
// stale ring slot is an entirely ordinary, expected condition.
func ParseUberblock(raw []byte) (Uberblock, bool) {
	if len(raw) < 32 {
		return Uberblock{}, false
	}
	magic := binary.LittleEndian.Uint64(raw[0:8])
	if magic != UberblockMagic {
		return Uberblock{}, false
	}
	version := binary.LittleEndian.Uint64(raw[8:16])
	txg := binary.LittleEndian.Uint64(raw[16:24])
	guidSum := binary.LittleEndian.Uint64(raw[24:32])
	var timestamp uint64
	bpStart := 32
	if len(raw) >= 40 {
		timestamp = binary.LittleEndian.Uint64(raw[32:40])
		bpStart = 40
	}
	if len(raw) < bpStart+BlockPointerSize {
		return Uberblock{}, false
	}
	b := parsebuf.New(raw[bpStart : bpStart+BlockPointerSize])
	rootBP, err := ParseBlockPointer(b)
	if err != nil {
		return Uberblock{}, false
	}
	return Uberblock{
		Magic:     magic,
		Version:   version,
		TXG:       txg,
		GUIDSum:   guidSum,
		Timestamp: timestamp,
		RootBP:    rootBP,
	}, true
}

// Label is a parsed 256 KiB label region: its configuration name/value
// list and the uberblock ring that follows it.
type Label struct {
	Config     *NVList
	Uberblocks []Uberblock // valid (magic-matched) entries only, in ring order
}

// ParseLabel decodes a full 256 KiB label region. The uberblock slot size
// is 2^ashift, taken from the config's "ashift" entry, or 512 bytes when
// that entry is absent.
func ParseLabel(raw []byte) (*Label, error) {
	if len(raw) != LabelSize {
		return nil, fmt.Errorf("%w: label must be %d bytes, got %d", ErrMalformed, LabelSize, len(raw))
	}

	nvlRegion := raw[NVListOffset:UberblockRingOffset]
	config, err := DecodeNVList(nvlRegion)
	if err != nil {
		return nil, fmt.Errorf("label config: %w", err)
	}

	ashift := 9
	if v, ok := config.Pairs["ashift"]; ok {
		ashift = int(v.Uint64OrZero())
	}
	slotSize := 1 << ashift
	if slotSize <= 0 {
		slotSize = 512
	}

	ringRegion := raw[UberblockRingOffset:]
	var ubs []Uberblock
	for off := 0; off+slotSize <= len(ringRegion); off += slotSize {
		ub, ok := ParseUberblock(ringRegion[off : off+slotSize])
		if ok {
			ubs = append(ubs, ub)
		}
	}

	return &Label{Config: config, Uberblocks: ubs}, nil
}

// BestUberblock returns the highest-TXG uberblock whose root pointer
// successfully dereferences, per §4.8. dereference is called with each
// candidate in descending TXG order and should return an error (not
// panic) for one that fails; the first success wins.
func (l *Label) BestUberblock(dereference func(Uberblock) error) (Uberblock, error) {
	sorted := append([]Uberblock(nil), l.Uberblocks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TXG > sorted[j].TXG })

	var lastErr error
	for _, ub := range sorted {
		if err := dereference(ub); err != nil {
			lastErr = err
			continue
		}
		return ub, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no uberblocks present", ErrUnreadable)
	}
	return Uberblock{}, lastErr
}
