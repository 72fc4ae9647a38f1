// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"fmt"

	"github.com/Error1000/szfs/internal/parsebuf"
	"github.com/Error1000/szfs/vdev"
)

// BlockPointer is the 128-byte on-disk pointer type: either a normal
// pointer (up to three DVAs plus verification/compression metadata) or an
// embedded pointer (payload inlined into the structure itself).
type BlockPointer struct {
	Embedded bool

	// Normal-pointer fields.
	DVAs         [3]DVA
	Level        uint8
	ObjectType   DMUObjectType
	ChecksumKind ChecksumKind
	Compression  CompressionKind
	PSize        int // physical (on-disk, possibly compressed) size in bytes
	LSize        int // logical (decompressed) size in bytes
	BirthTXG     uint64
	Fill         uint64
	BPChecksum   Checksum

	// Embedded-pointer fields.
	EmbeddedType DMUObjectType
	EmbeddedData []byte // raw inline payload, up to 112 bytes
}

// IsZero reports whether bp is the all-zero pointer, used to detect unused
// slots in indirect blocks and gang headers.
func (bp BlockPointer) IsZero() bool {
	return !bp.Embedded && bp.DVAs == [3]DVA{} && bp.BirthTXG == 0 && bp.PSize == 0 && bp.LSize == 0
}

// ParseBlockPointer decodes one 128-byte block pointer.
func ParseBlockPointer(b *parsebuf.ParseBuffer) (BlockPointer, error) {
	start := b.Offset()
	if _, err := b.Peek(BlockPointerSize); err != nil {
		return BlockPointer{}, fmt.Errorf("%w: block pointer: %v", ErrMalformed, err)
	}

	var dvas [3]DVA
	for i := range dvas {
		dva, err := ParseDVA(b)
		if err != nil {
			return BlockPointer{}, fmt.Errorf("block pointer dva %d: %w", i, err)
		}
		dvas[i] = dva
	}

	// The fourth 16-byte word packs level/type/checksum/compress/embedded
	// flags alongside the physical and logical sizes.
	word, err := b.NextUint64LE()
	if err != nil {
		return BlockPointer{}, fmt.Errorf("%w: block pointer flags word: %v", ErrMalformed, err)
	}
	lsizeMinusOne := word & 0xFFFF
	psizeMinusOneOrEtype := (word >> 16) & 0xFFFF
	compress := CompressionKind((word >> 32) & 0x7F)
	embeddedBit := (word>>39)&1 != 0
	checksumKind := ChecksumKind((word >> 40) & 0xFF)
	objType := DMUObjectType((word >> 48) & 0xFF)
	level := uint8((word >> 56) & 0x1F)
	encryptedBit := (word>>61)&1 != 0
	endianBit := (word>>63)&1 != 0

	if !endianBit {
		return BlockPointer{}, fmt.Errorf("%w: big-endian block pointer not implemented", ErrUnsupported)
	}
	if encryptedBit {
		return BlockPointer{}, fmt.Errorf("%w: encrypted block pointers are a non-goal", ErrUnsupported)
	}

	if embeddedBit {
		bp := BlockPointer{
			Embedded:     true,
			EmbeddedType: objType,
			Compression:  compress,
			LSize:        int(lsizeMinusOne) + 1,
			PSize:        int(psizeMinusOneOrEtype) + 1,
		}
		// Embedded payload occupies every byte of the 128-byte structure
		// except the flags word (bytes 48-55) and the birth TXG word
		// (bytes 80-87): the three DVA slots plus the rest of the metadata
		// region, EmbeddedPayloadMaxSize bytes in all.
		b.SetOffset(start)
		raw, err := b.Peek(BlockPointerSize)
		if err != nil {
			return BlockPointer{}, fmt.Errorf("%w: embedded payload: %v", ErrMalformed, err)
		}
		payload := make([]byte, 0, EmbeddedPayloadMaxSize)
		payload = append(payload, raw[0:48]...)
		payload = append(payload, raw[56:80]...)
		payload = append(payload, raw[88:BlockPointerSize]...)
		bp.EmbeddedData = payload
		b.SetOffset(start + BlockPointerSize)
		return bp, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := b.NextUint64LE(); err != nil {
			return BlockPointer{}, fmt.Errorf("%w: block pointer reserved word %d: %v", ErrMalformed, i, err)
		}
	}

	birthTXG, err := b.NextUint64LE()
	if err != nil {
		return BlockPointer{}, fmt.Errorf("%w: block pointer birth txg: %v", ErrMalformed, err)
	}

	fill, err := b.NextUint64LE()
	if err != nil {
		return BlockPointer{}, fmt.Errorf("%w: block pointer fill: %v", ErrMalformed, err)
	}

	var checksum Checksum
	for i := range checksum {
		v, err := b.NextUint64LE()
		if err != nil {
			return BlockPointer{}, fmt.Errorf("%w: block pointer checksum: %v", ErrMalformed, err)
		}
		checksum[i] = v
	}

	b.SetOffset(start + BlockPointerSize)

	return BlockPointer{
		DVAs:         dvas,
		Level:        level,
		ObjectType:   objType,
		ChecksumKind: checksumKind,
		Compression:  compress,
		PSize:        int(psizeMinusOneOrEtype) + 1,
		LSize:        int(lsizeMinusOne) + 1,
		BirthTXG:     birthTXG,
		Fill:         fill,
		BPChecksum:   checksum,
	}, nil
}

// YoloFinder is the recovery-engine fallback consulted when every DVA on a
// normal block pointer fails. It is satisfied by recovery.YoloEngine; kept as
// an interface here to avoid an import cycle between zfs and recovery.
type YoloFinder interface {
	FindBlockByChecksum(checksum Checksum, psize int) (offset int64, ok bool)
}

// blockCacher is satisfied by *vdev.RaidZ; block-pointer dereference uses
// whichever top-level vdev owns vdev id 0 as the cache, matching the
// design note that vdev 0 is the canonical routing target.
type blockCacher interface {
	CachedBlock(checksum [4]uint64, checksumKind uint8) (data []byte, cachedNegative bool, present bool)
	CacheBlock(checksum [4]uint64, checksumKind uint8, data []byte, ok bool)
}

func cacheOwner(vdevs vdev.Vdevs) blockCacher {
	if v, ok := vdevs[0]; ok {
		if bc, ok := v.(blockCacher); ok {
			return bc
		}
	}
	return nil
}

// Dereference resolves a block pointer to its logical bytes: for a normal
// pointer, tries each DVA in order, verifies the checksum, decompresses,
// and falls back to YOLO recovery (when yolo is non-nil and the checksum
// kind is fletcher4) if every DVA fails. For an embedded pointer, it
// decompresses the inline payload directly; there is no checksum step.
func (bp BlockPointer) Dereference(vdevs vdev.Vdevs, log logger, yolo YoloFinder) ([]byte, error) {
	if bp.Embedded {
		return decompress(bp.Compression, bp.EmbeddedData, bp.LSize)
	}

	kind := bp.ChecksumKind.Resolved()
	cache := cacheOwner(vdevs)
	if cache != nil {
		if data, negative, present := cache.CachedBlock(bp.BPChecksum, uint8(kind)); present {
			if negative {
				return nil, fmt.Errorf("%w: cached negative result for checksum %v", ErrUnreadable, bp.BPChecksum)
			}
			return data, nil
		}
	}

	if !bp.ChecksumKind.Supported() {
		if log != nil {
			log.Warnf("blockpointer: unsupported checksum kind %s, treating as unreadable", bp.ChecksumKind)
		}
		return nil, fmt.Errorf("%w: checksum kind %s", ErrUnsupported, bp.ChecksumKind)
	}
	if !bp.Compression.Supported() {
		if log != nil {
			log.Warnf("blockpointer: unsupported compression kind %s, treating as unreadable", bp.Compression)
		}
		return nil, fmt.Errorf("%w: compression kind %s", ErrUnsupported, bp.Compression)
	}

	var lastErr error
	for _, dva := range bp.DVAs {
		if dva == (DVA{}) {
			continue
		}
		raw, err := dva.Dereference(vdevs, bp.PSize, log)
		if err != nil {
			lastErr = err
			continue
		}
		computed, ok := Compute(kind, raw)
		if !ok || computed != bp.BPChecksum {
			lastErr = fmt.Errorf("%w: checksum mismatch for dva %+v", ErrUnreadable, dva)
			continue
		}
		logical, err := decompress(bp.Compression, raw, bp.LSize)
		if err != nil {
			lastErr = err
			continue
		}
		if cache != nil {
			cache.CacheBlock(bp.BPChecksum, uint8(kind), logical, true)
		}
		return logical, nil
	}

	if yolo != nil && kind == ChecksumFletcher4 {
		if off, ok := yolo.FindBlockByChecksum(bp.BPChecksum, bp.PSize); ok {
			raidzLeaf, rerr := resolveVdev(vdevs, 0, log)
			if rerr == nil {
				raw, rerr := raidzLeaf.ReadAt(off, bp.PSize)
				if rerr == nil {
					if computed, ok := Compute(kind, raw); ok && computed == bp.BPChecksum {
						logical, derr := decompress(bp.Compression, raw, bp.LSize)
						if derr == nil {
							if cache != nil {
								cache.CacheBlock(bp.BPChecksum, uint8(kind), logical, true)
							}
							return logical, nil
						}
					}
				}
			}
		}
	}

	if cache != nil {
		cache.CacheBlock(bp.BPChecksum, uint8(kind), nil, false)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no dva present on block pointer", ErrUnreadable)
	}
	return nil, lastErr
}

// decompress dispatches to the algorithm named by kind after alias
// resolution, trimming/validating against the expected logical size.
func decompress(kind CompressionKind, data []byte, lsize int) ([]byte, error) {
	switch kind.Resolved() {
	case CompressOff:
		if len(data) < lsize {
			return nil, fmt.Errorf("%w: uncompressed data shorter than logical size", ErrInvariant)
		}
		out := make([]byte, lsize)
		copy(out, data)
		return out, nil
	case CompressLZ4:
		return DecodeLZ4(data, lsize)
	case CompressLZJB:
		return DecodeLZJB(data, lsize)
	default:
		return nil, fmt.Errorf("%w: compression kind %s", ErrUnsupported, kind)
	}
}
