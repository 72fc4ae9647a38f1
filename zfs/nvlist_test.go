// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// buildNVList hand-assembles a minimal XDR nvlist with a single uint64
// pair, matching the wire shape DecodeNVList expects.
func buildNVList(name string, value uint64) []byte {
	var buf []byte
	buf = append(buf, 1, 1, 0, 0) // encoding=1 (native), little-endian flag=1, reserved
	buf = append(buf, be32(0)...) // version
	buf = append(buf, be32(0)...) // flag

	nameBytes := []byte(name)
	pad := (4 - len(nameBytes)%4) % 4

	buf = append(buf, be32(1)...) // encoded_size (unused by decoder, nonzero)
	buf = append(buf, be32(1)...) // decoded_size
	buf = append(buf, be32(uint32(len(nameBytes)))...)
	buf = append(buf, nameBytes...)
	buf = append(buf, make([]byte, pad)...)
	buf = append(buf, be32(uint32(NVTypeUint64))...)
	buf = append(buf, be32(1)...) // nvalues
	buf = append(buf, be64(value)...)

	buf = append(buf, be32(0)...) // sentinel encoded_size
	buf = append(buf, be32(0)...) // sentinel decoded_size
	return buf
}

func TestDecodeNVListSingleUint64Pair(t *testing.T) {
	raw := buildNVList("ashift", 12)
	list, err := DecodeNVList(raw)
	require.NoError(t, err)
	require.Contains(t, list.Pairs, "ashift")
	require.Equal(t, uint64(12), list.Pairs["ashift"].Uint64OrZero())
}

func TestDecodeNVListRejectsBadEncoding(t *testing.T) {
	raw := []byte{0, 1, 0, 0}
	_, err := DecodeNVList(raw)
	require.Error(t, err)
}

func TestDecodeNVListNestedList(t *testing.T) {
	inner := buildNVList("inner-key", 7)
	// Wrap inner (minus its own preamble) as a nested NVList-typed value in
	// an outer list.
	var outer []byte
	outer = append(outer, 1, 1, 0, 0)
	outer = append(outer, be32(0)...)
	outer = append(outer, be32(0)...)

	name := []byte("child")
	pad := (4 - len(name)%4) % 4
	outer = append(outer, be32(1)...)
	outer = append(outer, be32(1)...)
	outer = append(outer, be32(uint32(len(name)))...)
	outer = append(outer, name...)
	outer = append(outer, make([]byte, pad)...)
	outer = append(outer, be32(uint32(NVTypeNVList))...)
	outer = append(outer, be32(1)...)
	outer = append(outer, inner[4:]...) // nested body has no preamble of its own

	outer = append(outer, be32(0)...)
	outer = append(outer, be32(0)...)

	list, err := DecodeNVList(outer)
	require.NoError(t, err)
	require.Contains(t, list.Pairs, "child")
	nested := list.Pairs["child"].List
	require.NotNil(t, nested)
	require.Equal(t, uint64(7), nested.Pairs["inner-key"].Uint64OrZero())
}
