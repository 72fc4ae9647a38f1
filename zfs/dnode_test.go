// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildDNodeRaw assembles a single-slot (512-byte) DNode with nblkptr=1 and
// the given already-encoded 128-byte block pointer as its sole pointer.
func buildDNodeRaw(objType DMUObjectType, nlevels uint8, bonusLen uint16, bp []byte, bonus []byte) []byte {
	buf := make([]byte, 0, DNodeSlotSize)
	buf = append(buf, byte(objType))
	buf = append(buf, 17)      // indblkshift
	buf = append(buf, nlevels) // nlevels
	buf = append(buf, 1)       // nblkptr
	buf = append(buf, 0)       // bonus type
	buf = append(buf, 0)       // checksum byte
	buf = append(buf, 0)       // compress byte
	buf = append(buf, 0)       // flags

	dataBlockSizeSectors := make([]byte, 2)
	binary.LittleEndian.PutUint16(dataBlockSizeSectors, 8)
	buf = append(buf, dataBlockSizeSectors...)

	bonusLenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(bonusLenBytes, bonusLen)
	buf = append(buf, bonusLenBytes...)

	buf = append(buf, 0)                  // extra slots (single-slot dnode)
	buf = append(buf, make([]byte, 3)...) // pad
	buf = append(buf, make([]byte, 8)...) // maxblkid (0)
	buf = append(buf, make([]byte, 8)...) // total allocated accounting
	buf = append(buf, make([]byte, 32)...) // pad2

	buf = append(buf, bp...)
	buf = append(buf, bonus...)

	for len(buf) < DNodeSlotSize {
		buf = append(buf, 0)
	}
	return buf
}

func TestParseDNodeLeafNoIndirection(t *testing.T) {
	payload := []byte("a tiny embedded file body")
	bp := buildEmbeddedBlockPointer(payload, len(payload), len(payload), DMUPlainFileContents)
	raw := buildDNodeRaw(DMUPlainFileContents, 1, 0, bp, nil)

	dn, err := ParseDNode(raw)
	require.NoError(t, err)
	require.Equal(t, DMUPlainFileContents, dn.ObjectType)
	require.Equal(t, uint8(1), dn.NLevels)
	require.Len(t, dn.BlockPointers, 1)
	require.True(t, dn.BlockPointers[0].Embedded)
}

func TestParseDNodeRejectsUnusedSlot(t *testing.T) {
	raw := make([]byte, DNodeSlotSize)
	_, err := ParseDNode(raw)
	require.Error(t, err)
}

func TestDNodeReadEmbeddedLeaf(t *testing.T) {
	payload := []byte("contents read through dnode.Read")
	bp := buildEmbeddedBlockPointer(payload, len(payload), len(payload), DMUPlainFileContents)
	raw := buildDNodeRaw(DMUPlainFileContents, 1, 0, bp, nil)

	dn, err := ParseDNode(raw)
	require.NoError(t, err)

	out, err := dn.Read(nil, nil, nil, 0, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDNodeBlockPathSingleLevel(t *testing.T) {
	dn := &DNode{NLevels: 1}
	require.Nil(t, dn.blockPath(5))
}

func TestDNodeBlockPathMultiLevel(t *testing.T) {
	// IndBlockShift 7 => 128-byte indirect blocks => branching factor 1
	// (128/128); use a larger shift so the branching factor is realistic.
	dn := &DNode{IndBlockShift: 10, NLevels: 2, NBlkPtr: 3} // 1024-byte blocks, B=8
	tags := dn.blockPath(10)
	require.Len(t, tags, 2)
	// Leaf block id 10: ids[0] = 10/8 = 1 (top-level indirect id),
	// ids[1] = 10 (the leaf id itself).
	require.Equal(t, indirectTag{parentBlockID: 0, offset: 1}, tags[0])
	require.Equal(t, indirectTag{parentBlockID: 1, offset: 2}, tags[1])
}
