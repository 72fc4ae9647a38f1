// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"fmt"

	"github.com/Error1000/szfs/internal/parsebuf"
)

// ObjectSetKind distinguishes the dataset type an object set belongs to.
type ObjectSetKind uint64

const (
	ObjectSetKindNone       ObjectSetKind = 0
	ObjectSetKindZFS        ObjectSetKind = 2
	ObjectSetKindZVol       ObjectSetKind = 1
)

// ZilHeader is the ZFS intent-log header embedded in every object set. It
// is parsed and kept in ObjectSet.Zil; this reader never replays the log,
// and no code path reads the log block pointer.
type ZilHeader struct {
	ClaimTXG                 uint64
	HighestReplayedSeqNumber uint64
	Log                      BlockPointer
}

const zilHeaderReservedWords = 6

func parseZilHeader(b *parsebuf.ParseBuffer) (ZilHeader, error) {
	claimTXG, err := b.NextUint64LE()
	if err != nil {
		return ZilHeader{}, fmt.Errorf("%w: zil claim txg: %v", ErrMalformed, err)
	}
	highest, err := b.NextUint64LE()
	if err != nil {
		return ZilHeader{}, fmt.Errorf("%w: zil highest replayed seq: %v", ErrMalformed, err)
	}
	log, err := ParseBlockPointer(b)
	if err != nil {
		return ZilHeader{}, fmt.Errorf("zil log pointer: %w", err)
	}
	if _, err := b.Next(8 * zilHeaderReservedWords); err != nil {
		return ZilHeader{}, fmt.Errorf("%w: zil reserved words: %v", ErrMalformed, err)
	}
	return ZilHeader{ClaimTXG: claimTXG, HighestReplayedSeqNumber: highest, Log: log}, nil
}

// ObjectSet is the 1024-byte record whose embedded meta-DNode's indirect
// tree produces the DNode array for this object set.
type ObjectSet struct {
	MetaDNode *DNode
	Zil       ZilHeader
	Kind      ObjectSetKind
}

// ParseObjectSet decodes a 1024-byte object set record: a meta-DNode
// occupying the first 512 bytes, a ZIL header, and a trailing kind tag.
func ParseObjectSet(raw []byte) (*ObjectSet, error) {
	if len(raw) < ObjectSetSize {
		return nil, fmt.Errorf("%w: object set shorter than %d bytes", ErrMalformed, ObjectSetSize)
	}
	metaDNode, err := ParseDNode(raw[:DNodeSlotSize])
	if err != nil {
		return nil, fmt.Errorf("object set meta-dnode: %w", err)
	}
	if metaDNode.ObjectType != DMUObjectDirectory && metaDNode.ObjectType != DMUNone {
		// Tolerate unknown meta-dnode types; the meta-dnode's own type tag
		// historically varies across on-disk versions and is not load-
		// bearing for descending its indirect tree.
	}

	b := parsebuf.New(raw[DNodeSlotSize:])
	zil, err := parseZilHeader(b)
	if err != nil {
		return nil, fmt.Errorf("object set: %w", err)
	}
	kind, err := b.NextUint64LE()
	if err != nil {
		return nil, fmt.Errorf("%w: object set kind: %v", ErrMalformed, err)
	}

	return &ObjectSet{MetaDNode: metaDNode, Zil: zil, Kind: ObjectSetKind(kind)}, nil
}
