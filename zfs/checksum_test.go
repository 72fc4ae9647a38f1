// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFletcher4Deterministic(t *testing.T) {
	data := make([]byte, 512)
	for i := range data {
		data[i] = byte(i)
	}
	a := Fletcher4(data)
	b := Fletcher4(data)
	require.Equal(t, a, b)

	data[0] ^= 0xFF
	c := Fletcher4(data)
	require.NotEqual(t, a, c)
}

func TestFletcher4DropsTrailingPartialWord(t *testing.T) {
	full := []byte{1, 2, 3, 4}
	withTrailer := []byte{1, 2, 3, 4, 5, 6}
	require.Equal(t, Fletcher4(full), Fletcher4(withTrailer))
}

func TestFletcher2PairsOfWords(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i * 3)
	}
	a := Fletcher2(data)
	b := Fletcher2(data)
	require.Equal(t, a, b)
}

func TestComputeUnsupportedKind(t *testing.T) {
	_, ok := Compute(ChecksumSHA256, []byte("x"))
	require.False(t, ok)
}

func TestComputeResolvesAliases(t *testing.T) {
	data := []byte("some data to checksum, long enough to span a word")
	onResult, ok := Compute(ChecksumOn, data)
	require.True(t, ok)
	fletcher4Result, ok := Compute(ChecksumFletcher4, data)
	require.True(t, ok)
	require.Equal(t, fletcher4Result, onResult)
}
