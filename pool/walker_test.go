// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pool

import (
	"encoding/binary"
	"testing"

	"github.com/Error1000/szfs/vdev"
	"github.com/Error1000/szfs/zfs"
	"github.com/stretchr/testify/require"
)

// memLeaf is an in-memory vdev.Vdev used so pool tests never touch a real
// file or device.
type memLeaf struct{ data []byte }

func (m *memLeaf) ReadAt(offset int64, length int) ([]byte, error) {
	return m.data[offset : offset+int64(length)], nil
}
func (m *memLeaf) WriteAt(offset int64, data []byte) error {
	copy(m.data[offset:], data)
	return nil
}
func (m *memLeaf) Size() int64 { return int64(len(m.data)) }

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// buildDNodeSlotRaw assembles one 512-byte DNode slot with no indirection
// and no block pointers worth dereferencing, just enough for readDNode's
// own bookkeeping (object type, maxblkid) to round-trip.
func buildDNodeSlotRaw(objType zfs.DMUObjectType, maxBlockID uint64) []byte {
	buf := make([]byte, 0, zfs.DNodeSlotSize)
	buf = append(buf, byte(objType), 9, 1, 1, 0, 0, 0, 0) // type, indblkshift, nlevels=1, nblkptr=1, bonustype=0, cksum, compress, flags
	buf = append(buf, make([]byte, 2)...)                 // datablkszsec
	buf = append(buf, make([]byte, 2)...)                 // bonuslen=0
	buf = append(buf, 0)                   // extra slots (single-slot dnode)
	buf = append(buf, make([]byte, 3)...)  // pad
	buf = append(buf, le64(maxBlockID)...)
	buf = append(buf, make([]byte, 8)...)  // total allocated accounting
	buf = append(buf, make([]byte, 32)...) // pad2

	// A single placeholder block pointer: all-zero DVAs with just the
	// endian bit set, so ParseBlockPointer accepts it (it is never
	// dereferenced by this test).
	placeholderBP := make([]byte, zfs.BlockPointerSize)
	binary.LittleEndian.PutUint64(placeholderBP[48:56], uint64(1)<<63)
	buf = append(buf, placeholderBP...)
	for len(buf) < zfs.DNodeSlotSize {
		buf = append(buf, 0)
	}
	return buf[:zfs.DNodeSlotSize]
}

// buildMetaDNodePointingAt returns a meta-DNode (NLevels=1, one data block
// covering exactly one DNode slot) whose sole block pointer references the
// given on-disk sector offset in vdev 0.
func buildMetaDNodePointingAt(sectorOffset uint64, checksum zfs.Checksum, psize int) *zfs.DNode {
	dva := zfs.DVA{VdevID: 0, SectorOffset: sectorOffset, SizeSectors: uint32(psize / 512)}
	bp := zfs.BlockPointer{
		DVAs:         [3]zfs.DVA{dva, {}, {}},
		ChecksumKind: zfs.ChecksumFletcher4,
		Compression:  zfs.CompressOff,
		PSize:        psize,
		LSize:        psize,
		BPChecksum:   checksum,
	}
	return &zfs.DNode{
		NLevels:              1,
		NBlkPtr:              1,
		DataBlockSizeSectors: uint16(psize / 512),
		BlockPointers:        []zfs.BlockPointer{bp},
	}
}

func TestReadDNodeResolvesObjectZero(t *testing.T) {
	dnodeRaw := buildDNodeSlotRaw(zfs.DMUPlainFileContents, 4)
	checksum := zfs.Fletcher4(dnodeRaw)

	leaf := &memLeaf{data: make([]byte, 64*1024)}
	const sectorOffset = 10
	copy(leaf.data[sectorOffset*512:], dnodeRaw)

	rz, err := vdev.NewRaidZ([]vdev.Vdev{leaf}, 0, 512, nil)
	require.NoError(t, err)
	vdevs := vdev.Vdevs{0: rz}

	meta := buildMetaDNodePointingAt(sectorOffset, checksum, len(dnodeRaw))
	os := &zfs.ObjectSet{MetaDNode: meta}

	p := &Pool{Vdevs: vdevs}
	dn, err := p.ReadObject(os, 0)
	require.NoError(t, err)
	require.Equal(t, zfs.DMUPlainFileContents, dn.ObjectType)
	require.Equal(t, uint64(4), dn.MaxBlockID)
}

func TestLookupDirectoryMasksObjectIDTo48Bits(t *testing.T) {
	entries := map[string]zfs.ZAPValue{}
	var wide [8]byte
	binary.BigEndian.PutUint64(wide[:], 0xFFFF000000000042)
	entries["file.txt"] = zfs.ZAPValue{IntSize: 8, NValues: 1, Data: wide[:]}
	// LookupDirectory itself calls zfs.Dump against a DNode; exercise the
	// masking math directly via the same expression it uses.
	v := entries["file.txt"].Uint64() & 0xFFFFFFFFFFFF
	require.Equal(t, uint64(0x42), v)
}
