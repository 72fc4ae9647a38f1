// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"fmt"

	"github.com/Error1000/szfs/internal/parsebuf"
)

// DSLDirectory is the bonus buffer of a DSL-directory DNode: the pool
// walker follows HeadDatasetObject from the "root_dataset" entry of the
// object directory ZAP to the DSL dataset that owns the active head
// object set.
type DSLDirectory struct {
	CreationTime        uint64
	HeadDatasetObject    uint64
	ParentObject         uint64
	ChildDirZapObject    uint64
	UsedBytes            uint64
	CompressedBytes      uint64
	UncompressedBytes    uint64
	QuotaBytes           uint64
}

// ParseDSLDirectory decodes a DSL-directory bonus buffer.
func ParseDSLDirectory(bonus []byte) (DSLDirectory, error) {
	b := parsebuf.New(bonus)
	fields := make([]uint64, 8)
	for i := range fields {
		v, err := b.NextUint64LE()
		if err != nil {
			return DSLDirectory{}, fmt.Errorf("%w: dsl directory field %d: %v", ErrMalformed, i, err)
		}
		fields[i] = v
	}
	return DSLDirectory{
		CreationTime:      fields[0],
		HeadDatasetObject: fields[1],
		ParentObject:      fields[2],
		ChildDirZapObject: fields[3],
		UsedBytes:         fields[4],
		CompressedBytes:   fields[5],
		UncompressedBytes: fields[6],
		QuotaBytes:        fields[7],
	}, nil
}

// DSLDataset is the bonus buffer of a DSL-dataset DNode: it carries the
// root block pointer of the head object set this dataset names.
type DSLDataset struct {
	DirObject     uint64
	PrevSnapObject uint64
	PrevSnapTXG   uint64
	NextSnapObject uint64
	CreationTime  uint64
	CreationTXG   uint64
	UsedBytes     uint64
	CompressedBytes uint64
	UncompressedBytes uint64
	RootBP        BlockPointer
}

// ParseDSLDataset decodes a DSL-dataset bonus buffer: nine leading u64
// fields followed by the 128-byte root block pointer of this dataset's
// head object set.
func ParseDSLDataset(bonus []byte) (DSLDataset, error) {
	b := parsebuf.New(bonus)
	fields := make([]uint64, 9)
	for i := range fields {
		v, err := b.NextUint64LE()
		if err != nil {
			return DSLDataset{}, fmt.Errorf("%w: dsl dataset field %d: %v", ErrMalformed, i, err)
		}
		fields[i] = v
	}
	bp, err := ParseBlockPointer(b)
	if err != nil {
		return DSLDataset{}, fmt.Errorf("dsl dataset root bp: %w", err)
	}
	return DSLDataset{
		DirObject:         fields[0],
		PrevSnapObject:    fields[1],
		PrevSnapTXG:       fields[2],
		NextSnapObject:    fields[3],
		CreationTime:      fields[4],
		CreationTXG:       fields[5],
		UsedBytes:         fields[6],
		CompressedBytes:   fields[7],
		UncompressedBytes: fields[8],
		RootBP:            bp,
	}, nil
}
