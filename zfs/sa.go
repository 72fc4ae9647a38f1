// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"encoding/binary"
	"fmt"

	"github.com/Error1000/szfs/vdev"
)

// SAAttrSpec describes one attribute's shape, as recorded in the dataset's
// SA-registry ZAP: a name, a byteswap function tag (opaque to this
// reader, since everything here is already little-endian), and a fixed
// length or 0 for variable-length.
type SAAttrSpec struct {
	Name     string
	ByteSwap uint8
	Length   int // 0 means variable-length
}

// SALayout is an ordered list of attribute ids, indexed by layout id, as
// recorded in the SA-layouts ZAP.
type SALayout []uint16

const saMagic = uint32(0x2F505A01)

// ParseSA decodes a packed system-attribute record from a DNode's bonus
// buffer: an 8-byte header (magic, header-size + layout-id) followed by
// attribute values concatenated in the order the referenced layout
// dictates.
func ParseSA(bonus []byte, registry map[uint16]SAAttrSpec, layouts map[uint16]SALayout) (map[string][]byte, error) {
	if len(bonus) < 8 {
		return nil, fmt.Errorf("%w: sa record shorter than header", ErrMalformed)
	}
	magic := binary.LittleEndian.Uint32(bonus[0:4])
	if magic != saMagic {
		return nil, fmt.Errorf("%w: sa magic mismatch: got 0x%x", ErrMalformed, magic)
	}
	hdrWord := binary.LittleEndian.Uint32(bonus[4:8])
	layoutID := uint16(hdrWord >> 2)

	layout, ok := layouts[layoutID]
	if !ok {
		return nil, fmt.Errorf("%w: sa layout id %d not found in sa-layouts zap", ErrUnreadable, layoutID)
	}

	off := 8 // attribute values follow the 8-byte header
	out := make(map[string][]byte, len(layout))
	for _, attrID := range layout {
		spec, ok := registry[attrID]
		if !ok {
			return nil, fmt.Errorf("%w: sa attribute id %d not found in sa-registry zap", ErrUnreadable, attrID)
		}
		length := spec.Length
		if length == 0 {
			// Variable-length attributes store their length as a
			// leading 2-byte value in the header's variable-length
			// table; this reader does not need variable-length SA
			// attributes for any operation it implements and rejects
			// them explicitly rather than guessing their shape.
			return nil, fmt.Errorf("%w: variable-length sa attribute %q", ErrUnsupported, spec.Name)
		}
		if off+length > len(bonus) {
			return nil, fmt.Errorf("%w: sa attribute %q overruns bonus buffer", ErrInvariant, spec.Name)
		}
		out[spec.Name] = append([]byte(nil), bonus[off:off+length]...)
		off += length
	}
	return out, nil
}

// LoadSARegistry decodes the SA-registry ZAP (name → (attr id implied by
// iteration order, byteswap, length)) into an id-indexed map. The
// registry ZAP's values are themselves packed as
// (byteswap:u8, length:u8, attr_id:u16) big-endian scalars, keyed by
// attribute name.
func LoadSARegistry(vdevs vdev.Vdevs, log logger, yolo YoloFinder, d *DNode) (map[uint16]SAAttrSpec, error) {
	raw, err := Dump(vdevs, log, yolo, d)
	if err != nil {
		return nil, fmt.Errorf("sa registry: %w", err)
	}
	out := make(map[uint16]SAAttrSpec, len(raw))
	for name, v := range raw {
		packed := v.Uint64()
		byteSwap := uint8(packed & 0xFF)
		length := int((packed >> 8) & 0xFFFF)
		attrID := uint16((packed >> 24) & 0xFFFF)
		out[attrID] = SAAttrSpec{Name: name, ByteSwap: byteSwap, Length: length}
	}
	return out, nil
}

// LoadSALayouts decodes the SA-layouts ZAP (layout id, as a decimal
// string name → array-of-u16 attribute id list) into an id-indexed map.
func LoadSALayouts(vdevs vdev.Vdevs, log logger, yolo YoloFinder, d *DNode) (map[uint16]SALayout, error) {
	raw, err := Dump(vdevs, log, yolo, d)
	if err != nil {
		return nil, fmt.Errorf("sa layouts: %w", err)
	}
	out := make(map[uint16]SALayout, len(raw))
	for name, v := range raw {
		var layoutID uint16
		if _, err := fmt.Sscanf(name, "%d", &layoutID); err != nil {
			continue
		}
		if v.IntSize != 2 {
			return nil, fmt.Errorf("%w: sa layout %q has unexpected int size %d", ErrMalformed, name, v.IntSize)
		}
		ids := make(SALayout, v.NValues)
		for i := 0; i < v.NValues; i++ {
			ids[i] = binary.BigEndian.Uint16(v.Data[i*2 : i*2+2])
		}
		out[layoutID] = ids
	}
	return out, nil
}
