// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"fmt"

	"github.com/Error1000/szfs/internal/parsebuf"
	"github.com/Error1000/szfs/vdev"
)

// DNode is the on-disk object record: a type tag, a bonus buffer, 1-3
// block pointers, and the parameters of an indirect-block tree that
// addresses the object's logical bytes.
type DNode struct {
	ObjectType     DMUObjectType
	BonusType      DMUBonusType
	IndBlockShift  uint8 // log2 of indirect block size
	NLevels        uint8 // indirect-tree height; 1 means BlockPointers are leaves
	NBlkPtr        uint8
	DataBlockSizeSectors uint16 // data block size in 512-byte sectors
	BonusLen       uint16
	MaxBlockID     uint64
	BlockPointers  []BlockPointer
	Bonus          []byte
}

// IndirectBlockSize returns the size in bytes of one indirect block for
// this DNode.
func (d *DNode) IndirectBlockSize() int {
	return 1 << d.IndBlockShift
}

// DataBlockSize returns the size in bytes of one leaf data block.
func (d *DNode) DataBlockSize() int {
	return int(d.DataBlockSizeSectors) * dvaSectorSize
}

// branchingFactor returns the number of block pointers that fit in one
// indirect block (128 bytes each).
func (d *DNode) branchingFactor() int {
	return d.IndirectBlockSize() / BlockPointerSize
}

// ParseDNode decodes a single 512-byte-aligned DNode occupying nSlots
// slots (raw must be exactly nSlots*DNodeSlotSize bytes).
func ParseDNode(raw []byte) (*DNode, error) {
	if len(raw) < DNodeSlotSize {
		return nil, fmt.Errorf("%w: dnode shorter than one slot", ErrMalformed)
	}
	b := parsebuf.New(raw)

	objType, err := b.NextUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: dnode object type: %v", ErrMalformed, err)
	}
	if objType == 0 {
		return nil, fmt.Errorf("%w: dnode object type none (unused slot)", ErrMalformed)
	}
	indBlockShift, err := b.NextUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: dnode indblkshift: %v", ErrMalformed, err)
	}
	nlevels, err := b.NextUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: dnode nlevels: %v", ErrMalformed, err)
	}
	nblkptr, err := b.NextUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: dnode nblkptr: %v", ErrMalformed, err)
	}
	bonusType, err := b.NextUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: dnode bonus type: %v", ErrMalformed, err)
	}
	if _, err := b.NextUint8(); err != nil { // checksum kind for this object's blocks
		return nil, fmt.Errorf("%w: dnode checksum byte: %v", ErrMalformed, err)
	}
	if _, err := b.NextUint8(); err != nil { // compression kind for this object's blocks
		return nil, fmt.Errorf("%w: dnode compress byte: %v", ErrMalformed, err)
	}
	if _, err := b.NextUint8(); err != nil { // flags
		return nil, fmt.Errorf("%w: dnode flags byte: %v", ErrMalformed, err)
	}
	dataBlockSizeSectors, err := b.NextUint16LE()
	if err != nil {
		return nil, fmt.Errorf("%w: dnode datablkszsec: %v", ErrMalformed, err)
	}
	bonusLen, err := b.NextUint16LE()
	if err != nil {
		return nil, fmt.Errorf("%w: dnode bonuslen: %v", ErrMalformed, err)
	}
	extraSlots, err := b.NextUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: dnode extra slots: %v", ErrMalformed, err)
	}
	if _, err := b.Next(3); err != nil { // pad
		return nil, fmt.Errorf("%w: dnode pad: %v", ErrMalformed, err)
	}
	maxBlockID, err := b.NextUint64LE()
	if err != nil {
		return nil, fmt.Errorf("%w: dnode maxblkid: %v", ErrMalformed, err)
	}
	if _, err := b.Next(8); err != nil { // used-bytes accounting, not needed for reads
		return nil, fmt.Errorf("%w: dnode used accounting: %v", ErrMalformed, err)
	}
	if _, err := b.Next(32); err != nil { // pad2
		return nil, fmt.Errorf("%w: dnode pad2: %v", ErrMalformed, err)
	}

	if nblkptr == 0 || nblkptr > 3 {
		return nil, fmt.Errorf("%w: dnode nblkptr %d out of range", ErrInvariant, nblkptr)
	}
	nSlots := len(raw) / DNodeSlotSize
	if nSlots < 1 {
		return nil, fmt.Errorf("%w: dnode slot count", ErrInvariant)
	}

	// The dnode's variable-length tail (block pointers + bonus buffer,
	// rounded up to a whole number of slots) must agree with the slot
	// count this dnode claims via extra_slots.
	tailSize := 64 + int(nblkptr)*BlockPointerSize + int(bonusLen)
	roundedTailSize := tailSize
	if roundedTailSize%DNodeSlotSize != 0 {
		roundedTailSize = (roundedTailSize/DNodeSlotSize + 1) * DNodeSlotSize
	}
	if roundedTailSize != (int(extraSlots)+1)*DNodeSlotSize {
		return nil, fmt.Errorf("%w: dnode tail size %d disagrees with slot count %d", ErrInvariant, roundedTailSize, extraSlots+1)
	}

	bpBytes, err := b.Next(int(nblkptr) * BlockPointerSize)
	if err != nil {
		return nil, fmt.Errorf("%w: dnode block pointers: %v", ErrMalformed, err)
	}
	bpBuf := parsebuf.New(bpBytes)
	bps := make([]BlockPointer, nblkptr)
	for i := range bps {
		bp, err := ParseBlockPointer(bpBuf)
		if err != nil {
			return nil, fmt.Errorf("dnode block pointer %d: %w", i, err)
		}
		bps[i] = bp
	}

	// The bonus buffer fills the remainder of the first slot after the
	// block-pointer array, plus any additional slots beyond the first.
	bonusAreaLen := (nSlots * DNodeSlotSize) - b.Offset()
	if int(bonusLen) > bonusAreaLen {
		return nil, fmt.Errorf("%w: dnode bonuslen %d exceeds available %d", ErrInvariant, bonusLen, bonusAreaLen)
	}
	bonus, err := b.Next(int(bonusLen))
	if err != nil {
		return nil, fmt.Errorf("%w: dnode bonus buffer: %v", ErrMalformed, err)
	}

	return &DNode{
		ObjectType:           DMUObjectType(objType),
		BonusType:            DMUBonusType(bonusType),
		IndBlockShift:        indBlockShift,
		NLevels:              nlevels,
		NBlkPtr:              nblkptr,
		DataBlockSizeSectors: dataBlockSizeSectors,
		BonusLen:             bonusLen,
		MaxBlockID:           maxBlockID,
		BlockPointers:        bps,
		Bonus:                append([]byte(nil), bonus...),
	}, nil
}

// indirectTag is one (parent-block-id, offset-within-parent) step of the
// path from the DNode's block-pointer array down to a leaf data block.
type indirectTag struct {
	parentBlockID int64
	offset        int
}

// blockPath computes the sequence of indirect-tree tags needed to resolve
// leaf block i, per §4.5: starting from i and successively dividing by the
// branching factor B, except the top level which divides by NBlkPtr.
func (d *DNode) blockPath(i uint64) []indirectTag {
	if d.NLevels <= 1 {
		return nil
	}
	b := uint64(d.branchingFactor())
	levels := int(d.NLevels)

	ids := make([]uint64, levels)
	ids[levels-1] = i
	for lvl := levels - 2; lvl >= 0; lvl-- {
		ids[lvl] = ids[lvl+1] / b
	}

	tags := make([]indirectTag, levels)
	tags[0] = indirectTag{parentBlockID: int64(ids[0] / uint64(d.NBlkPtr)), offset: int(ids[0] % uint64(d.NBlkPtr))}
	for lvl := 1; lvl < levels; lvl++ {
		tags[lvl] = indirectTag{parentBlockID: int64(ids[lvl-1]), offset: int(ids[lvl] % b)}
	}
	return tags
}

// ReadBlock resolves leaf data block i to a BlockPointer.
func (d *DNode) ReadBlock(vdevs vdev.Vdevs, log logger, yolo YoloFinder, i uint64) (BlockPointer, error) {
	if d.NLevels <= 1 {
		if i != 0 {
			return BlockPointer{}, fmt.Errorf("%w: dnode has no indirection but block %d requested", ErrInvariant, i)
		}
		if len(d.BlockPointers) == 0 {
			return BlockPointer{}, fmt.Errorf("%w: dnode has no block pointers", ErrInvariant)
		}
		return d.BlockPointers[0], nil
	}

	tags := d.blockPath(i)
	if len(tags) == 0 {
		return BlockPointer{}, fmt.Errorf("%w: empty block path for leaf-indirection dnode", ErrInvariant)
	}

	top := tags[0]
	if top.offset < 0 || top.offset >= len(d.BlockPointers) {
		return BlockPointer{}, fmt.Errorf("%w: top-level block pointer index %d out of range", ErrUnreadable, top.offset)
	}
	cur := d.BlockPointers[top.offset]

	for _, tag := range tags[1:] {
		data, err := cur.Dereference(vdevs, log, yolo)
		if err != nil {
			return BlockPointer{}, fmt.Errorf("dnode indirect block: %w", err)
		}
		bpStart := tag.offset * BlockPointerSize
		if bpStart+BlockPointerSize > len(data) {
			return BlockPointer{}, fmt.Errorf("%w: indirect block too short for offset %d", ErrInvariant, tag.offset)
		}
		buf := parsebuf.New(data[bpStart : bpStart+BlockPointerSize])
		bp, err := ParseBlockPointer(buf)
		if err != nil {
			return BlockPointer{}, fmt.Errorf("dnode indirect entry: %w", err)
		}
		cur = bp
	}

	return cur, nil
}

// Read reads size bytes starting at logical offset offset, per §4.5:
// computes the first block, the offset within it, and the tail, issues
// ceil block reads, concatenates, and trims to size. Reading 0 bytes
// always succeeds.
func (d *DNode) Read(vdevs vdev.Vdevs, log logger, yolo YoloFinder, offset int64, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	bs := d.DataBlockSize()
	if bs == 0 {
		return nil, fmt.Errorf("%w: dnode data block size is zero", ErrInvariant)
	}

	firstBlock := uint64(offset) / uint64(bs)
	withinFirst := int(uint64(offset) % uint64(bs))
	totalNeeded := withinFirst + size
	nBlocks := (totalNeeded + bs - 1) / bs

	out := make([]byte, 0, nBlocks*bs)
	for bi := 0; bi < nBlocks; bi++ {
		bp, err := d.ReadBlock(vdevs, log, yolo, firstBlock+uint64(bi))
		if err != nil {
			return nil, fmt.Errorf("dnode read block %d: %w", firstBlock+uint64(bi), err)
		}
		data, err := bp.Dereference(vdevs, log, yolo)
		if err != nil {
			return nil, fmt.Errorf("dnode dereference block %d: %w", firstBlock+uint64(bi), err)
		}
		out = append(out, data...)
	}

	if withinFirst+size > len(out) {
		return nil, fmt.Errorf("%w: read produced %d bytes, wanted %d", ErrUnreadable, len(out), withinFirst+size)
	}
	return out[withinFirst : withinFirst+size], nil
}
