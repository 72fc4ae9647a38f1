// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMicroZapBlock assembles a minimal micro-zap block: one header slot
// (unexamined) followed by one entry slot naming objID under name.
func buildMicroZapBlock(name string, objID uint64) []byte {
	block := make([]byte, MicroZapEntrySize*2)
	binary.LittleEndian.PutUint64(block[0:8], MicroZapMagic) // cosmetic, header not validated by dumpMicroZap

	entry := block[MicroZapEntrySize:]
	binary.LittleEndian.PutUint64(entry[0:8], objID)
	nameField := entry[MicroZapEntrySize-MicroZapNameSize:]
	copy(nameField, name)
	return block
}

func TestDumpMicroZapSingleEntry(t *testing.T) {
	block := buildMicroZapBlock("myfile", 42)
	entries, err := dumpMicroZap(block)
	require.NoError(t, err)
	require.Contains(t, entries, "myfile")
	require.Equal(t, uint64(42), entries["myfile"].Uint64())
}

func TestDumpMicroZapSkipsEmptySlots(t *testing.T) {
	block := make([]byte, MicroZapEntrySize*3)
	entry := buildMicroZapBlock("onlyone", 5)[MicroZapEntrySize:]
	copy(block[MicroZapEntrySize:2*MicroZapEntrySize], entry)
	// third slot left all-zero, must be skipped rather than reported.
	entries, err := dumpMicroZap(block)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMicroZapDuplicateNameRejected(t *testing.T) {
	block := make([]byte, MicroZapEntrySize*3)
	e1 := buildMicroZapBlock("dup", 1)[MicroZapEntrySize:]
	e2 := buildMicroZapBlock("dup", 2)[MicroZapEntrySize:]
	copy(block[MicroZapEntrySize:2*MicroZapEntrySize], e1)
	copy(block[2*MicroZapEntrySize:3*MicroZapEntrySize], e2)
	_, err := dumpMicroZap(block)
	require.Error(t, err)
}

// buildFatZapLeaf assembles a single fat-zap leaf block containing exactly
// one name/value entry, using two array chunks (one for the name, one for
// the 8-byte big-endian value) plus one entry chunk.
func buildFatZapLeaf(name string, value uint64) []byte {
	const total = 1024 // matches dumpFatZapLeaf's own nHashSlots/chunkAreaStart derivation
	nHashSlots := total / 32
	hashTableBytes := nHashSlots * 2
	chunkAreaStart := fatZapLeafHeaderSize + hashTableBytes

	nameChunkIdx := uint16(0)
	valueChunkIdx := uint16(1)
	entryChunkIdx := uint16(2)

	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[:8], FatZapLeafTypeMagic)
	binary.LittleEndian.PutUint32(buf[24:28], FatZapLeafMagic)

	nameChunk := buf[chunkAreaStart+int(nameChunkIdx)*ZapChunkSize : chunkAreaStart+(int(nameChunkIdx)+1)*ZapChunkSize]
	nameChunk[0] = zapChunkTypeArray
	copy(nameChunk[1:1+ZapLeafArrayBytes], name)
	binary.BigEndian.PutUint16(nameChunk[1+ZapLeafArrayBytes:1+ZapLeafArrayBytes+2], zapLeafNoChunk)

	var valueBytes [8]byte
	binary.BigEndian.PutUint64(valueBytes[:], value)
	valueChunk := buf[chunkAreaStart+int(valueChunkIdx)*ZapChunkSize : chunkAreaStart+(int(valueChunkIdx)+1)*ZapChunkSize]
	valueChunk[0] = zapChunkTypeArray
	copy(valueChunk[1:1+8], valueBytes[:])
	binary.BigEndian.PutUint16(valueChunk[1+ZapLeafArrayBytes:1+ZapLeafArrayBytes+2], zapLeafNoChunk)

	entryChunk := buf[chunkAreaStart+int(entryChunkIdx)*ZapChunkSize : chunkAreaStart+(int(entryChunkIdx)+1)*ZapChunkSize]
	entryChunk[0] = zapChunkTypeEntry
	entryChunk[1] = 8 // intSize
	binary.BigEndian.PutUint16(entryChunk[2:4], 1)
	binary.BigEndian.PutUint16(entryChunk[4:6], nameChunkIdx)
	binary.BigEndian.PutUint16(entryChunk[6:8], valueChunkIdx)

	return buf
}

func TestDumpFatZapLeafSingleEntry(t *testing.T) {
	leaf := buildFatZapLeaf("onlyfile", 99)
	entries := make(map[string]ZAPValue)
	err := dumpFatZapLeaf(leaf, entries)
	require.NoError(t, err)
	require.Contains(t, entries, "onlyfile")
	require.Equal(t, uint64(99), entries["onlyfile"].Uint64())
}

func TestFollowChunkChainTerminates(t *testing.T) {
	chunks := []zapChunk{
		{typ: zapChunkTypeArray, arrayData: [ZapLeafArrayBytes]byte{'h', 'i'}, next: zapLeafNoChunk},
	}
	out, err := followChunkChain(chunks, 0, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{'h', 'i'}, out[:2])
}
