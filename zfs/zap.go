// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"encoding/binary"
	"fmt"

	"github.com/Error1000/szfs/vdev"
)

// ZAPValue is a decoded ZAP entry's value: a big-endian-packed scalar or
// array of IntSize-byte integers, NValues of them.
type ZAPValue struct {
	IntSize int
	NValues int
	Data    []byte // NValues * IntSize bytes, big-endian per element
}

// Uint64 reinterprets the value as a single 8-byte (or narrower)
// big-endian scalar, the common shape for object-id lookups.
func (v ZAPValue) Uint64() uint64 {
	if len(v.Data) == 0 {
		return 0
	}
	var buf [8]byte
	n := len(v.Data)
	if n > 8 {
		n = 8
	}
	copy(buf[8-n:], v.Data[:n])
	return binary.BigEndian.Uint64(buf[:])
}

// Dump decodes a ZAP object's name→value mapping. It dispatches on the
// first block's magic: a Micro-ZAP (fixed 64-byte entries) or a Fat-ZAP
// (hash-pointer table plus chained leaf chunks).
func Dump(vdevs vdev.Vdevs, log logger, yolo YoloFinder, d *DNode) (map[string]ZAPValue, error) {
	block0, err := d.Read(vdevs, log, yolo, 0, d.DataBlockSize())
	if err != nil {
		return nil, fmt.Errorf("zap: read block 0: %w", err)
	}
	if len(block0) < 8 {
		return nil, fmt.Errorf("%w: zap block too short for magic", ErrMalformed)
	}
	typeTag := binary.LittleEndian.Uint64(block0[:8])

	switch typeTag {
	case MicroZapMagic:
		return dumpMicroZap(block0)
	case FatZapHeaderMagic:
		return dumpFatZap(vdevs, log, yolo, d, block0)
	default:
		return nil, fmt.Errorf("%w: zap type tag 0x%x unrecognized", ErrMalformed, typeTag)
	}
}

func dumpMicroZap(block0 []byte) (map[string]ZAPValue, error) {
	if len(block0) < MicroZapEntrySize {
		return nil, fmt.Errorf("%w: micro-zap block too short for header", ErrMalformed)
	}
	entries := make(map[string]ZAPValue)
	for off := MicroZapEntrySize; off+MicroZapEntrySize <= len(block0); off += MicroZapEntrySize {
		entry := block0[off : off+MicroZapEntrySize]
		value := binary.LittleEndian.Uint64(entry[0:8])
		nameBytes := entry[MicroZapEntrySize-MicroZapNameSize:]
		if allZero(nameBytes) {
			continue
		}
		name := cString(nameBytes)
		if _, dup := entries[name]; dup {
			return nil, fmt.Errorf("%w: micro-zap duplicate name %q", ErrInvariant, name)
		}
		var data [8]byte
		binary.BigEndian.PutUint64(data[:], value)
		entries[name] = ZAPValue{IntSize: 8, NValues: 1, Data: data[:]}
	}
	return entries, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func cString(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

const (
	zapChunkTypeFree  = 0
	zapChunkTypeEntry = 1
	zapChunkTypeArray = 2
)

type zapChunk struct {
	typ       uint8
	intSize   uint8
	nvalues   uint16
	nameChunk uint16
	valueChunk uint16
	hash      uint64
	arrayData [ZapLeafArrayBytes]byte
	next      uint16
}

func parseZapChunk(raw []byte) (zapChunk, error) {
	if len(raw) != ZapChunkSize {
		return zapChunk{}, fmt.Errorf("%w: zap chunk must be %d bytes", ErrMalformed, ZapChunkSize)
	}
	var c zapChunk
	c.typ = raw[0]
	switch c.typ {
	case zapChunkTypeEntry:
		c.intSize = raw[1]
		c.nvalues = binary.BigEndian.Uint16(raw[2:4])
		c.nameChunk = binary.BigEndian.Uint16(raw[4:6])
		c.valueChunk = binary.BigEndian.Uint16(raw[6:8])
		c.hash = binary.BigEndian.Uint64(raw[8:16])
	case zapChunkTypeArray:
		copy(c.arrayData[:], raw[1:1+ZapLeafArrayBytes])
		c.next = binary.BigEndian.Uint16(raw[1+ZapLeafArrayBytes : 1+ZapLeafArrayBytes+2])
	default:
		c.next = binary.BigEndian.Uint16(raw[1:3])
	}
	return c, nil
}

const zapLeafNoChunk = 0xFFFF

// followChunkChain reassembles the bytes referenced by a name or value
// chunk index, walking Array chunks until either the terminator index is
// reached or wantLen bytes have been collected.
func followChunkChain(chunks []zapChunk, start uint16, wantLen int) ([]byte, error) {
	var out []byte
	idx := start
	for idx != zapLeafNoChunk && (wantLen < 0 || len(out) < wantLen) {
		if int(idx) >= len(chunks) {
			return nil, fmt.Errorf("%w: zap chunk index %d out of range", ErrMalformed, idx)
		}
		c := chunks[idx]
		if c.typ != zapChunkTypeArray {
			return nil, fmt.Errorf("%w: zap chunk chain expected array, got type %d", ErrMalformed, c.typ)
		}
		out = append(out, c.arrayData[:]...)
		idx = c.next
	}
	return out, nil
}

func dumpFatZap(vdevs vdev.Vdevs, log logger, yolo YoloFinder, d *DNode, block0 []byte) (map[string]ZAPValue, error) {
	blockSize := d.DataBlockSize()
	if blockSize == 0 || len(block0) < blockSize {
		return nil, fmt.Errorf("%w: fat-zap header block too short", ErrMalformed)
	}
	if len(block0) < 16 {
		return nil, fmt.Errorf("%w: fat-zap header block too short for magic", ErrMalformed)
	}
	magic := binary.LittleEndian.Uint64(block0[8:16])
	if magic != FatZapMagic {
		return nil, fmt.Errorf("%w: fat-zap magic mismatch: got 0x%x", ErrMalformed, magic)
	}

	// The embedded leaf-pointer table occupies the second half of the
	// header block; the first half holds the fixed header fields (pointer
	// table descriptor, counters, salt) plus padding out to blockSize/2.
	// Non-embedded (paged) pointer tables are not supported.
	tableOff := blockSize / 2
	if len(block0) < tableOff {
		return nil, fmt.Errorf("%w: fat-zap header block too short for pointer table", ErrMalformed)
	}
	table := block0[tableOff:]

	leafIDs := map[uint64]bool{}
	for off := 0; off+8 <= len(table); off += 8 {
		id := binary.LittleEndian.Uint64(table[off : off+8])
		leafIDs[id] = true
	}

	entries := make(map[string]ZAPValue)
	for leafID := range leafIDs {
		leafData, err := d.Read(vdevs, log, yolo, int64(leafID)*int64(blockSize), blockSize)
		if err != nil {
			return nil, fmt.Errorf("zap: read leaf %d: %w", leafID, err)
		}
		if err := dumpFatZapLeaf(leafData, entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// fatZapLeafHeaderSize is ZapLeafHeader::get_ondisk_size(): type tag (8) +
// next_leaf (8) + prefix (8) + magic (4) + nfree/nentries/prefix_len/
// freelist (2 each) + 12 bytes padding.
const fatZapLeafHeaderSize = 48

func dumpFatZapLeaf(leafData []byte, entries map[string]ZAPValue) error {
	if len(leafData) < fatZapLeafHeaderSize {
		return fmt.Errorf("%w: fat-zap leaf too short for header", ErrMalformed)
	}
	typeTag := binary.LittleEndian.Uint64(leafData[:8])
	if typeTag != FatZapLeafTypeMagic {
		return fmt.Errorf("%w: fat-zap leaf type mismatch: got 0x%x", ErrMalformed, typeTag)
	}
	magic := binary.LittleEndian.Uint32(leafData[24:28])
	if magic != FatZapLeafMagic {
		return fmt.Errorf("%w: fat-zap leaf magic mismatch: got 0x%x", ErrMalformed, magic)
	}

	// Hash table sizing is a function of the dnode's data block size, not
	// of what happens to remain after the header in this particular leaf.
	nHashSlots := len(leafData) / 32
	hashTableBytes := nHashSlots * 2
	chunkAreaStart := fatZapLeafHeaderSize + hashTableBytes
	if chunkAreaStart >= len(leafData) {
		return nil
	}

	nChunks := (len(leafData) - chunkAreaStart) / ZapChunkSize
	chunks := make([]zapChunk, nChunks)
	for i := 0; i < nChunks; i++ {
		raw := leafData[chunkAreaStart+i*ZapChunkSize : chunkAreaStart+(i+1)*ZapChunkSize]
		c, err := parseZapChunk(raw)
		if err != nil {
			return err
		}
		chunks[i] = c
	}

	for _, c := range chunks {
		if c.typ != zapChunkTypeEntry {
			continue
		}
		nameBytes, err := followChunkChain(chunks, c.nameChunk, -1)
		if err != nil {
			return fmt.Errorf("zap entry name: %w", err)
		}
		name := cString(nameBytes)

		intSize := int(c.intSize)
		if intSize != 1 && intSize != 2 && intSize != 8 {
			intSize = 8
		}
		wantLen := intSize * int(c.nvalues)
		valueBytes, err := followChunkChain(chunks, c.valueChunk, wantLen)
		if err != nil {
			return fmt.Errorf("zap entry value: %w", err)
		}
		if len(valueBytes) > wantLen {
			valueBytes = valueBytes[:wantLen]
		}

		if _, dup := entries[name]; dup {
			return fmt.Errorf("%w: fat-zap duplicate name %q", ErrInvariant, name)
		}
		entries[name] = ZAPValue{IntSize: intSize, NValues: int(c.nvalues), Data: valueBytes}
	}
	return nil
}
