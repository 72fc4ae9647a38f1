// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zfs decodes the on-disk structures of a ZFS storage pool: block
// pointers, data virtual addresses, DNodes, object sets, ZAP maps and
// system-attribute records. It is read-only: nothing in this package writes
// to a pool.
package zfs // import "github.com/Error1000/szfs/zfs"

// Sector is the fixed, pool-wide unit of leaf I/O, a power of two (commonly
// 512 or 4096 bytes).
type Sector = uint32

const (
	// UberblockMagic identifies a valid little-endian uberblock.
	UberblockMagic = uint64(0x00bab10c)
	// UberblockMagicSwapped is the byte-swapped magic, observed when a pool
	// was written in big-endian byte order. No parser checks for it;
	// ParseUberblock skips such a slot like any other mismatched one.
	UberblockMagicSwapped = uint64(0x0cb1ba00)

	// GangBlockMagic identifies a valid gang block header.
	GangBlockMagic = uint64(0x210da7ab10c7a11)

	// LabelSize is the size in bytes of a single label region.
	LabelSize = 256 * 1024
	// BootRegionSize is the size of the leading boot area every leaf
	// reserves before logical content begins.
	BootRegionSize = 4 * 1024 * 1024
	// NVListOffset is the byte offset within a label of the XDR name/value
	// list.
	NVListOffset = 16 * 1024
	// UberblockRingOffset is the byte offset within a label of the
	// uberblock ring.
	UberblockRingOffset = 128 * 1024
	// UberblockRingSize is the size in bytes of the uberblock ring region.
	UberblockRingSize = LabelSize - UberblockRingOffset

	// BlockPointerSize is the on-disk size of a block pointer, in both its
	// normal and embedded forms.
	BlockPointerSize = 128
	// EmbeddedPayloadMaxSize is the maximum number of inline payload bytes
	// an embedded block pointer can carry.
	EmbeddedPayloadMaxSize = 112

	// DNodeSlotSize is the size in bytes of a single DNode slot.
	DNodeSlotSize = 512
	// DNodeBonusMaxSize is the maximum size of a DNode's inline bonus
	// buffer in the common (1-slot) case.
	DNodeBonusMaxSize = 320

	// ObjectSetSize is the on-disk size of an object set record.
	ObjectSetSize = 1024

	// MicroZapEntrySize is the size of one fixed Micro-ZAP entry.
	MicroZapEntrySize = 64
	// MicroZapNameSize is the name field width within a Micro-ZAP entry.
	MicroZapNameSize = 47
	// MicroZapMagic identifies a micro-zap block's type tag, the first
	// 8 bytes of block 0.
	MicroZapMagic = uint64(0x8000000000000003)
	// FatZapHeaderMagic identifies a fat-zap header block's type tag, the
	// first 8 bytes of block 0.
	FatZapHeaderMagic = uint64(0x8000000000000001)
	// FatZapMagic is the fat-zap header's own magic word, immediately
	// following its type tag (bytes 8-15 of block 0).
	FatZapMagic = uint64(0x2F52AB2AB)
	// FatZapLeafTypeMagic identifies a fat-zap leaf block's type tag, the
	// first 8 bytes of the leaf.
	FatZapLeafTypeMagic = uint64(0x8000000000000000)
	// FatZapLeafMagic is the fat-zap leaf header's own magic word.
	FatZapLeafMagic = uint32(0x2AB1EAF)
	// ZapChunkSize is the fixed size of one fat-zap leaf chunk.
	ZapChunkSize = 24
	// ZapLeafArrayBytes is the payload width of an Array chunk.
	ZapLeafArrayBytes = 21

	// NVListRecursionLimit bounds nested NVList depth.
	NVListRecursionLimit = 128
	// RaidzParityRotationWindow is the byte window (1 MiB) after which the
	// single-parity column rotation flips.
	RaidzParityRotationWindow = 1024 * 1024
)

// ChecksumKind identifies the algorithm used to verify a block's contents.
type ChecksumKind uint8

const (
	ChecksumInherit ChecksumKind = 0
	ChecksumOn      ChecksumKind = 1
	ChecksumOff     ChecksumKind = 2
	ChecksumLabel   ChecksumKind = 3
	ChecksumGangHdr ChecksumKind = 4
	ChecksumZilog   ChecksumKind = 5
	ChecksumFletcher2 ChecksumKind = 6
	ChecksumFletcher4 ChecksumKind = 7
	ChecksumSHA256    ChecksumKind = 8
	ChecksumZilog2    ChecksumKind = 9
)

// Supported reports whether this package implements verification for kind,
// resolving the "on"/"gang-header" aliases to fletcher4 per the original
// specification.
func (k ChecksumKind) Supported() bool {
	switch k {
	case ChecksumFletcher2, ChecksumFletcher4, ChecksumOn, ChecksumGangHdr:
		return true
	default:
		return false
	}
}

// Resolved returns the concrete algorithm kind after alias resolution.
func (k ChecksumKind) Resolved() ChecksumKind {
	switch k {
	case ChecksumOn, ChecksumGangHdr:
		return ChecksumFletcher4
	default:
		return k
	}
}

func (k ChecksumKind) String() string {
	switch k {
	case ChecksumInherit:
		return "inherit"
	case ChecksumOn:
		return "on"
	case ChecksumOff:
		return "off"
	case ChecksumLabel:
		return "label"
	case ChecksumGangHdr:
		return "gang-header"
	case ChecksumZilog:
		return "zilog"
	case ChecksumFletcher2:
		return "fletcher2"
	case ChecksumFletcher4:
		return "fletcher4"
	case ChecksumSHA256:
		return "sha256"
	case ChecksumZilog2:
		return "zilog2"
	default:
		return "unknown"
	}
}

// CompressionKind identifies the algorithm used to compress a block's
// physical bytes.
type CompressionKind uint8

const (
	CompressInherit CompressionKind = 0
	CompressOn      CompressionKind = 1
	CompressOff     CompressionKind = 2
	CompressLZJB    CompressionKind = 3
	CompressGZIP1   CompressionKind = 4
	CompressGZIP9   CompressionKind = 12
	CompressZLE     CompressionKind = 13
	CompressLZ4     CompressionKind = 15
)

// Supported reports whether this package implements decompression for kind.
func (k CompressionKind) Supported() bool {
	switch k {
	case CompressOff, CompressLZ4, CompressOn, CompressLZJB:
		return true
	default:
		return false
	}
}

// Resolved returns the concrete algorithm after alias resolution ("on"
// always means lz4 on modern pools, per the original specification).
func (k CompressionKind) Resolved() CompressionKind {
	if k == CompressOn {
		return CompressLZ4
	}
	return k
}

func (k CompressionKind) String() string {
	switch k {
	case CompressInherit:
		return "inherit"
	case CompressOn:
		return "on"
	case CompressOff:
		return "off"
	case CompressLZJB:
		return "lzjb"
	case CompressGZIP1, CompressGZIP9:
		return "gzip"
	case CompressZLE:
		return "zle"
	case CompressLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// DMUObjectType identifies what a DNode's data represents.
type DMUObjectType uint8

const (
	DMUNone             DMUObjectType = 0
	DMUObjectDirectory  DMUObjectType = 1
	DMUObjectArray      DMUObjectType = 2
	DMUPackedNVList     DMUObjectType = 3
	DMUPlainFileContents DMUObjectType = 19
	DMUDirectoryContents DMUObjectType = 20
	DMUMasterNode       DMUObjectType = 21
	DMUDSLDirectory     DMUObjectType = 16
	DMUDSLDataset       DMUObjectType = 16 // distinguished by the owning DNode's bonus type
	DMUSAAttrRegistration DMUObjectType = 44
	DMUSAAttrLayouts     DMUObjectType = 45
)

// DMUBonusType identifies the shape of a DNode's bonus buffer.
type DMUBonusType = DMUObjectType

const (
	DMUBonusDSLDirectory DMUBonusType = 12
	DMUBonusDSLDataset   DMUBonusType = 16
	DMUBonusZNode        DMUBonusType = 17
	DMUBonusSAAttr       DMUBonusType = 44
)
