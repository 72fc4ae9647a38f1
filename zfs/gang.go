// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"fmt"

	"github.com/Error1000/szfs/internal/parsebuf"
	"github.com/Error1000/szfs/vdev"
)

// GangBlock is the 512-byte indirection used when a contiguous allocation
// of the desired size failed: up to three child block pointers, a magic
// word, and a self-checksum over the header bytes preceding it.
type GangBlock struct {
	Children [3]BlockPointer
	Checksum Checksum
}

const gangBlockSize = 512

// ParseGangBlock decodes a 512-byte gang block header and verifies its
// self-checksum (fletcher4 over the first 480 bytes, the conventional ZFS
// gang-header layout: three 128-byte block pointers, filler, the magic
// word at bytes 472-479, and the checksum itself occupying the final 32
// bytes).
func ParseGangBlock(raw []byte) (GangBlock, error) {
	if len(raw) != gangBlockSize {
		return GangBlock{}, fmt.Errorf("%w: gang block must be %d bytes, got %d", ErrMalformed, gangBlockSize, len(raw))
	}

	b := parsebuf.New(raw)
	var gb GangBlock
	for i := 0; i < 3; i++ {
		bp, err := ParseBlockPointer(b)
		if err != nil {
			return GangBlock{}, fmt.Errorf("gang block child %d: %w", i, err)
		}
		gb.Children[i] = bp
	}

	// The magic word and the checksum fill the final 40 bytes; the bytes
	// between the child pointers and them are filler.
	b.SetOffset(gangBlockSize - 40)
	magic, err := b.NextUint64LE()
	if err != nil {
		return GangBlock{}, fmt.Errorf("%w: gang block magic: %v", ErrMalformed, err)
	}
	if magic != GangBlockMagic {
		return GangBlock{}, fmt.Errorf("%w: gang block magic mismatch: got 0x%x", ErrMalformed, magic)
	}

	for i := range gb.Checksum {
		v, err := b.NextUint64LE()
		if err != nil {
			return GangBlock{}, fmt.Errorf("%w: gang block checksum: %v", ErrMalformed, err)
		}
		gb.Checksum[i] = v
	}

	computed := Fletcher4(raw[:b.Offset()-32])
	if computed != gb.Checksum {
		return GangBlock{}, fmt.Errorf("%w: gang block self-checksum mismatch", ErrInvariant)
	}

	return gb, nil
}

// dereferenceGang reads the gang header at d's location, verifies it, and
// recursively dereferences each non-empty child pointer until size bytes
// have been produced.
func dereferenceGang(vdevs vdev.Vdevs, d DVA, size int, log logger) ([]byte, error) {
	v, err := resolveVdev(vdevs, d.VdevID, log)
	if err != nil {
		return nil, err
	}
	raw, err := v.ReadAt(d.ByteOffset(), gangBlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: gang header read: %v", ErrUnreadable, err)
	}
	gb, err := ParseGangBlock(raw)
	if err != nil {
		return nil, err
	}

	var out []byte
	for _, child := range gb.Children {
		if child.IsZero() {
			continue
		}
		data, err := child.Dereference(vdevs, log, nil)
		if err != nil {
			return nil, fmt.Errorf("gang child: %w", err)
		}
		out = append(out, data...)
		if len(out) >= size {
			break
		}
	}
	if len(out) < size {
		return nil, fmt.Errorf("%w: gang block produced %d bytes, wanted %d", ErrUnreadable, len(out), size)
	}
	return out[:size], nil
}
