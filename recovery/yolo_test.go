// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateConvolutionVectorUnrotated(t *testing.T) {
	// 4 devices, 1 parity, sector size 512, psize = 3 sectors of data.
	mask := calculateConvolutionVector(0, 3*512, 512, 4, 1)
	require.Equal(t, []bool{false, true, true, true}, mask)
}

func TestCalculateConvolutionVectorRotatedAtOneMiB(t *testing.T) {
	const oneMiB = 1024 * 1024
	mask := calculateConvolutionVector(oneMiB, 3*512, 512, 4, 1)
	// Rotated: device 0 becomes data, device 1 becomes parity.
	require.Equal(t, []bool{true, false, true, true}, mask)
}

func TestConvolvePartialChecksumsFindsExactMatch(t *testing.T) {
	mask := []bool{false, true, true} // parity, data, data
	// Sector checksums laid out so a block starting at index 1 sums to 7.
	sectorChecksums := []uint32{100, 200, 3, 4, 300}
	out := convolvePartialChecksums(mask, sectorChecksums)
	// Window starting at sector index 1 covers sectors [1,2,3]; the mask
	// puts parity at sector 1 and data at sectors 2 and 3, which sum to 7.
	require.NotEmpty(t, out)
	found := false
	for _, v := range out {
		if v == 3+4 {
			found = true
		}
	}
	require.True(t, found)
}

func TestConvolvePartialChecksumsShortInputYieldsNoWindows(t *testing.T) {
	mask := []bool{true, true, true, true}
	out := convolvePartialChecksums(mask, []uint32{1, 2})
	require.Nil(t, out)
}
