// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"encoding/binary"
	"testing"

	"github.com/Error1000/szfs/internal/parsebuf"
	"github.com/stretchr/testify/require"
)

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// buildDVABytes assembles one 16-byte on-disk DVA.
func buildDVABytes(vdevID uint64, sectorOffset uint64, sizeSectors uint32, isGang bool) []byte {
	word0 := (vdevID << 32) | uint64(sizeSectors-1)
	word1 := sectorOffset
	if isGang {
		word1 |= uint64(1) << 63
	}
	var buf []byte
	buf = append(buf, le64(word0)...)
	buf = append(buf, le64(word1)...)
	return buf
}

// buildNormalBlockPointer assembles a full 128-byte normal block pointer.
func buildNormalBlockPointer(dva DVA, lsize, psize int, checksumKind ChecksumKind, compress CompressionKind, birthTXG uint64, checksum Checksum) []byte {
	var buf []byte
	buf = append(buf, buildDVABytes(dva.VdevID, dva.SectorOffset, dva.SizeSectors, dva.IsGang)...)
	buf = append(buf, make([]byte, 32)...) // dva[1], dva[2] left zero

	word := uint64(lsize-1) & 0xFFFF
	word |= (uint64(psize-1) & 0xFFFF) << 16
	word |= (uint64(compress) & 0x7F) << 32
	// embedded bit (39) left clear
	word |= (uint64(checksumKind) & 0xFF) << 40
	word |= (uint64(DMUPlainFileContents) & 0xFF) << 48
	word |= (uint64(0) & 0x1F) << 56 // level
	word |= uint64(1) << 63          // endian bit set (little-endian, supported)
	buf = append(buf, le64(word)...)

	buf = append(buf, make([]byte, 8*3)...) // 3 reserved words
	buf = append(buf, le64(birthTXG)...)
	buf = append(buf, le64(0)...) // fill
	for _, w := range checksum {
		buf = append(buf, le64(w)...)
	}
	for len(buf) < BlockPointerSize {
		buf = append(buf, 0)
	}
	return buf[:BlockPointerSize]
}

func TestParseBlockPointerNormal(t *testing.T) {
	dva := DVA{VdevID: 0, SectorOffset: 2048, SizeSectors: 8}
	checksum := Checksum{1, 2, 3, 4}
	raw := buildNormalBlockPointer(dva, 4096, 2048, ChecksumFletcher4, CompressLZ4, 42, checksum)

	bp, err := ParseBlockPointer(parsebuf.New(raw))
	require.NoError(t, err)
	require.False(t, bp.Embedded)
	require.Equal(t, dva, bp.DVAs[0])
	require.Equal(t, 4096, bp.LSize)
	require.Equal(t, 2048, bp.PSize)
	require.Equal(t, ChecksumFletcher4, bp.ChecksumKind)
	require.Equal(t, CompressLZ4, bp.Compression)
	require.Equal(t, uint64(42), bp.BirthTXG)
	require.Equal(t, checksum, bp.BPChecksum)
}

// buildEmbeddedBlockPointer assembles a 128-byte embedded block pointer,
// spreading payload over the bytes around the flags word (bytes 48-55) and
// the birth TXG word (bytes 80-87), starting at byte 0.
func buildEmbeddedBlockPointer(payload []byte, lsize, psize int, embeddedType DMUObjectType) []byte {
	word := uint64(lsize-1) & 0xFFFF
	word |= (uint64(psize-1) & 0xFFFF) << 16
	word |= (uint64(CompressOff) & 0x7F) << 32
	word |= uint64(1) << 39 // embedded bit
	word |= (uint64(embeddedType) & 0xFF) << 48
	word |= uint64(1) << 63 // endian bit

	padded := make([]byte, EmbeddedPayloadMaxSize)
	copy(padded, payload)
	buf := make([]byte, BlockPointerSize)
	copy(buf[0:48], padded[0:48])
	copy(buf[48:56], le64(word))
	copy(buf[56:80], padded[48:72])
	copy(buf[88:BlockPointerSize], padded[72:])
	return buf
}

func TestParseBlockPointerEmbedded(t *testing.T) {
	payload := []byte("small inline payload")
	raw := buildEmbeddedBlockPointer(payload, len(payload), len(payload), DMUPlainFileContents)

	bp, err := ParseBlockPointer(parsebuf.New(raw))
	require.NoError(t, err)
	require.True(t, bp.Embedded)
	require.Equal(t, DMUPlainFileContents, bp.EmbeddedType)
	require.Equal(t, payload, bp.EmbeddedData[:len(payload)])
}

func TestBlockPointerIsZero(t *testing.T) {
	var bp BlockPointer
	require.True(t, bp.IsZero())
	bp.PSize = 1
	require.False(t, bp.IsZero())
}

func TestDereferenceEmbeddedSkipsChecksum(t *testing.T) {
	payload := []byte("hello embedded world")
	bp := BlockPointer{
		Embedded:     true,
		EmbeddedType: DMUPlainFileContents,
		Compression:  CompressOff,
		LSize:        len(payload),
		EmbeddedData: payload,
	}
	out, err := bp.Dereference(nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}
