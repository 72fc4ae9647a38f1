// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"fmt"

	"github.com/Error1000/szfs/internal/parsebuf"
	"github.com/Error1000/szfs/vdev"
	"github.com/Error1000/szfs/zfs"
)

// FragmentKind enumerates the kinds of metadata fragment the scan pass
// recognizes.
type FragmentKind int

const (
	FragmentFileDNode FragmentKind = iota
	FragmentDirectoryDNode
	FragmentObjSetDNode
	FragmentIndirectBlock
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentFileDNode:
		return "file-dnode"
	case FragmentDirectoryDNode:
		return "directory-dnode"
	case FragmentObjSetDNode:
		return "objset-dnode"
	case FragmentIndirectBlock:
		return "indirect-block"
	default:
		return "unknown"
	}
}

// FragmentHash is the fletcher4 of a fragment's on-disk bytes, used as its
// key throughout the recovery graph. Child references are resolved only
// through this hash index, never through owning pointers, which breaks
// cycles by construction.
type FragmentHash [4]uint64

// Fragment is a {kind, parsed body, child-hash set} record recovered
// during the pool scan.
type Fragment struct {
	Kind   FragmentKind
	Offset int64
	Size   int // physical size on disk, pre-decompression

	DNode         *zfs.DNode         // set for *DNode kinds
	ObjSet        *zfs.ObjectSet     // set for FragmentObjSetDNode
	IndirectBlock []zfs.BlockPointer // set for FragmentIndirectBlock

	Children map[FragmentHash]bool
}

// probeSizes are the physical sizes tried when scanning each offset,
// covering one DNode slot, one object set, and a handful of common
// indirect-block sizes.
var probeSizes = []int{512, 1024, 4096, 16384, 131072}

var probeCompressions = []zfs.CompressionKind{zfs.CompressOff, zfs.CompressLZ4, zfs.CompressLZJB}

// tryParseFragment attempts to interpret raw (already read from disk at
// offset) as an object set, an indirect block, or a DNode, under every
// combination of probe physical size and compression kind. The first
// structure that parses successfully (and, for indirect blocks, has at
// least one pointer that dereferences) is returned.
func tryParseFragment(raw []byte, offset int64, vdevs vdev.Vdevs) (*Fragment, bool) {
	for _, psize := range probeSizes {
		if psize > len(raw) {
			continue
		}
		physical := raw[:psize]
		for _, comp := range probeCompressions {
			logical, ok := tryDecompressAnySize(comp, physical)
			if !ok {
				continue
			}

			if len(logical) == zfs.ObjectSetSize {
				if os, err := zfs.ParseObjectSet(logical); err == nil {
					return &Fragment{Kind: FragmentObjSetDNode, Offset: offset, Size: psize, ObjSet: os, Children: map[FragmentHash]bool{}}, true
				}
			}

			if len(logical) >= zfs.DNodeSlotSize && len(logical)%zfs.DNodeSlotSize == 0 {
				if dn, err := zfs.ParseDNode(logical); err == nil {
					kind := classifyDNodeFragment(dn)
					if kind >= 0 {
						return &Fragment{Kind: kind, Offset: offset, Size: psize, DNode: dn, Children: map[FragmentHash]bool{}}, true
					}
				}
			}

			if len(logical) >= zfs.BlockPointerSize && len(logical)%zfs.BlockPointerSize == 0 {
				if bps, ok := tryParseIndirectBlock(logical, vdevs); ok {
					return &Fragment{Kind: FragmentIndirectBlock, Offset: offset, Size: psize, IndirectBlock: bps, Children: map[FragmentHash]bool{}}, true
				}
			}
		}
	}
	return nil, false
}

// tryDecompressAnySize attempts to decompress physical under comp, trying
// each of the probe logical sizes that are multiples of the relevant
// record unit; "off" compression is tried at physical's own length.
func tryDecompressAnySize(comp zfs.CompressionKind, physical []byte) ([]byte, bool) {
	if comp == zfs.CompressOff {
		return physical, true
	}
	for _, lsize := range probeSizes {
		if lsize < len(physical) {
			continue
		}
		var out []byte
		var err error
		switch comp {
		case zfs.CompressLZ4:
			out, err = zfs.DecodeLZ4(physical, lsize)
		case zfs.CompressLZJB:
			out, err = zfs.DecodeLZJB(physical, lsize)
		default:
			continue
		}
		if err == nil {
			return out, true
		}
	}
	return nil, false
}

// classifyDNodeFragment maps a parsed DNode's object type to the
// fragment kind the undelete graph cares about, or -1 if it is not one of
// the kinds the scan collects.
func classifyDNodeFragment(dn *zfs.DNode) FragmentKind {
	switch dn.ObjectType {
	case zfs.DMUPlainFileContents:
		return FragmentFileDNode
	case zfs.DMUDirectoryContents, zfs.DMUMasterNode, zfs.DMUObjectDirectory:
		return FragmentDirectoryDNode
	default:
		return -1
	}
}

// tryParseIndirectBlock interprets logical as an array of block pointers,
// accepting it only if at least one non-zero pointer dereferences.
func tryParseIndirectBlock(logical []byte, vdevs vdev.Vdevs) ([]zfs.BlockPointer, bool) {
	n := len(logical) / zfs.BlockPointerSize
	bps := make([]zfs.BlockPointer, 0, n)
	anyDereferenced := false
	for i := 0; i < n; i++ {
		b := parsebuf.New(logical[i*zfs.BlockPointerSize : (i+1)*zfs.BlockPointerSize])
		bp, err := zfs.ParseBlockPointer(b)
		if err != nil {
			return nil, false
		}
		bps = append(bps, bp)
		if !bp.IsZero() {
			if _, err := bp.Dereference(vdevs, nil, nil); err == nil {
				anyDereferenced = true
			}
		}
	}
	if !anyDereferenced {
		return nil, false
	}
	return bps, true
}

// Graph is the fragment recovery graph: fragments keyed by the fletcher4
// of their on-disk bytes, with child-hash sets mutated in place during
// linking and expansion.
type Graph struct {
	Fragments map[FragmentHash]*Fragment
}

// NewGraph returns an empty fragment graph.
func NewGraph() *Graph {
	return &Graph{Fragments: make(map[FragmentHash]*Fragment)}
}

// Add inserts a fragment, computing its key from raw (the exact on-disk
// bytes it was parsed from, pre-decompression).
func (g *Graph) Add(raw []byte, frag *Fragment) FragmentHash {
	hash := FragmentHash(zfs.Fletcher4(raw))
	g.Fragments[hash] = frag
	return hash
}

func fmtHash(h FragmentHash) string {
	return fmt.Sprintf("%016x%016x%016x%016x", h[0], h[1], h[2], h[3])
}
