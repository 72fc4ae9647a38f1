// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepairResolvesUnambiguousCandidate(t *testing.T) {
	known := []byte("MAGIC___bad_bytes___TAIL")
	chunk := Chunk{
		Offset: 1024,
		Known:  append([]byte(nil), known...),
		BadRegions: []BadRegion{
			{OffsetInChunk: 8, Length: 9, Candidates: [][]byte{[]byte("right!!!!")}},
		},
		ExpectedMagicPrefix: []byte("MAGIC"),
		ExpectedMagicSuffix: []byte("TAIL"),
	}

	rec, ok := Repair(chunk)
	require.True(t, ok)
	require.Equal(t, int64(1024), rec.Offset)
	require.Contains(t, string(rec.Data), "right!!!!")
}

func TestRepairFailsOnAmbiguousCandidates(t *testing.T) {
	chunk := Chunk{
		Offset: 0,
		Known:  []byte("PREFIX__SUFFIX"),
		BadRegions: []BadRegion{
			{OffsetInChunk: 6, Length: 2, Candidates: [][]byte{[]byte("aa"), []byte("bb")}},
		},
		ExpectedMagicPrefix: []byte("PREFIX"),
	}
	_, ok := Repair(chunk)
	require.False(t, ok)
}

func TestRepairFailsWhenNoCandidateMatches(t *testing.T) {
	chunk := Chunk{
		Offset: 0,
		Known:  []byte("PREFIX__SUFFIX"),
		BadRegions: []BadRegion{
			{OffsetInChunk: 6, Length: 2, Candidates: [][]byte{[]byte("zz")}},
		},
		ExpectedMagicPrefix: []byte("QQQQQQ"),
	}
	_, ok := Repair(chunk)
	require.False(t, ok)
}

func TestRepairAllCountsSkipped(t *testing.T) {
	resolvable := Chunk{
		Offset: 0,
		Known:  []byte("PREFIX__"),
		BadRegions: []BadRegion{
			{OffsetInChunk: 6, Length: 2, Candidates: [][]byte{[]byte("OK")}},
		},
		ExpectedMagicPrefix: []byte("PREFIX"),
	}
	ambiguous := Chunk{
		Offset: 100,
		Known:  []byte("PREFIX__"),
		BadRegions: []BadRegion{
			{OffsetInChunk: 6, Length: 2, Candidates: [][]byte{[]byte("AA"), []byte("BB")}},
		},
		ExpectedMagicPrefix: []byte("PREFIX"),
	}
	noBadRegions := Chunk{Offset: 200, Known: []byte("clean")}

	records, skipped := RepairAll([]Chunk{resolvable, ambiguous, noBadRegions})
	require.Len(t, records, 1)
	require.Equal(t, int64(0), records[0].Offset)
	require.Equal(t, 1, skipped)
}
