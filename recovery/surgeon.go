// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import "bytes"

// BadRegion is one damaged sub-range within a chunk, along with every
// candidate byte sequence that might fill it (recovered from alternate
// DVAs, a gang-block sibling, or the target file's own current content).
type BadRegion struct {
	OffsetInChunk int
	Length        int
	Candidates    [][]byte
}

// Chunk is a compressed-record boundary from a format manifest: a byte
// range whose surrounding, undamaged bytes are known, plus zero or more
// bad regions needing a candidate chosen.
type Chunk struct {
	Offset      int64
	Known       []byte // the chunk's bytes as currently read, damaged regions included verbatim
	BadRegions  []BadRegion
	ExpectedMagicPrefix []byte
	ExpectedMagicSuffix []byte
}

// assemble substitutes one candidate per bad region (selected by idx,
// one index per region) into a copy of Known.
func (c Chunk) assemble(idx []int) []byte {
	out := append([]byte(nil), c.Known...)
	for i, region := range c.BadRegions {
		cand := region.Candidates[idx[i]]
		copy(out[region.OffsetInChunk:region.OffsetInChunk+region.Length], cand)
	}
	return out
}

// matchesFormat reports whether assembled's boundary bytes match the
// chunk's expected format magics (an empty expectation always matches).
func (c Chunk) matchesFormat(assembled []byte) bool {
	if len(c.ExpectedMagicPrefix) > 0 {
		if len(assembled) < len(c.ExpectedMagicPrefix) || !bytes.Equal(assembled[:len(c.ExpectedMagicPrefix)], c.ExpectedMagicPrefix) {
			return false
		}
	}
	if len(c.ExpectedMagicSuffix) > 0 {
		if len(assembled) < len(c.ExpectedMagicSuffix) {
			return false
		}
		tail := assembled[len(assembled)-len(c.ExpectedMagicSuffix):]
		if !bytes.Equal(tail, c.ExpectedMagicSuffix) {
			return false
		}
	}
	return true
}

// Repair enumerates the Cartesian product of candidate sources across a
// chunk's bad regions and emits a BinPatchRecord holding the whole
// reassembled chunk at the chunk's offset when exactly one combination
// produces a chunk matching the expected
// format magics. Ambiguous (more than one match) or hopeless (zero
// matches) chunks are reported via ok=false; the caller decides whether
// to fall back to a different repair strategy or leave the chunk as-is.
func Repair(c Chunk) (BinPatchRecord, bool) {
	if len(c.BadRegions) == 0 {
		return BinPatchRecord{}, false
	}

	idx := make([]int, len(c.BadRegions))
	var matches [][]byte

	var recurse func(pos int)
	recurse = func(pos int) {
		if pos == len(idx) {
			assembled := c.assemble(idx)
			if c.matchesFormat(assembled) {
				matches = append(matches, assembled)
			}
			return
		}
		for i := range c.BadRegions[pos].Candidates {
			idx[pos] = i
			recurse(pos + 1)
		}
	}
	recurse(0)

	if len(matches) != 1 {
		return BinPatchRecord{}, false
	}

	return BinPatchRecord{Offset: c.Offset, Data: matches[0]}, true
}

// RepairAll runs Repair over every chunk in a manifest, returning one
// binpatch record per chunk that resolved unambiguously. The number of
// chunks skipped (zero or multiple matches) is returned separately so
// the caller can log how much of the manifest it was unable to resolve,
// rather than silently treating partial coverage as full coverage.
func RepairAll(chunks []Chunk) (records []BinPatchRecord, skipped int) {
	for _, c := range chunks {
		if rec, ok := Repair(c); ok {
			records = append(records, rec)
		} else if len(c.BadRegions) > 0 {
			skipped++
		}
	}
	return records, skipped
}
