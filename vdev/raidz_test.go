// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vdev

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeLeaf is an in-memory Vdev used to exercise RaidZ without real files.
type fakeLeaf struct {
	data []byte
}

func (f *fakeLeaf) ReadAt(offset int64, length int) ([]byte, error) {
	return f.data[offset : offset+int64(length)], nil
}
func (f *fakeLeaf) WriteAt(offset int64, data []byte) error {
	copy(f.data[offset:], data)
	return nil
}
func (f *fakeLeaf) Size() int64 { return int64(len(f.data)) }

// newFilledLeaf returns a leaf whose every sector's first byte is its
// sector index (modulo 256), to allow easy offset tracing.
func newFilledLeaf(sectorSize, sectors int) *fakeLeaf {
	data := make([]byte, sectorSize*sectors)
	for s := 0; s < sectors; s++ {
		data[s*sectorSize] = byte(s)
	}
	return &fakeLeaf{data: data}
}

// TestRaidz1RotationScenario reproduces the documented scenario: N=4
// devices, P=1 parity, sector size 4096. At logical offset 1 MiB (the
// second 1 MiB window, an odd index), the column mapping rotates so
// that device 0 carries data and device 1 carries parity for the first
// stripe of that window.
func TestRaidz1RotationScenario(t *testing.T) {
	const sectorSize = 4096
	const nDevices = 4
	leaves := make([]Vdev, nDevices)
	for i := range leaves {
		leaves[i] = newFilledLeaf(sectorSize, 1024)
	}

	rz, err := NewRaidZ(leaves, 1, sectorSize, nil)
	require.NoError(t, err)

	const oneMiB = 1024 * 1024
	data, err := rz.ReadAt(oneMiB, 1)
	require.NoError(t, err)

	// At 1 MiB, s = oneMiB/sectorSize = 256 is the starting sequential
	// index; 256 % 4 == 0, so the first candidate physical device is 0.
	// Per the rotation rule this read falls in an odd window, so the
	// roles of device 0 and 1 swap: device 0 is NOT parity here (device 1
	// is), meaning the first data byte returned comes from device 0's
	// sector 64 (256/4 == 64), not device 1.
	expectedLeaf := leaves[0].(*fakeLeaf)
	require.Equal(t, expectedLeaf.data[64*sectorSize], data[0])
}

// TestRaidzNoRotationBelow1MiB checks the unrotated case: within the
// first 1 MiB window, device 0 is always a parity column for
// single-parity arrays, so the first data byte comes from device 1.
func TestRaidzNoRotationBelow1MiB(t *testing.T) {
	const sectorSize = 4096
	const nDevices = 4
	leaves := make([]Vdev, nDevices)
	for i := range leaves {
		leaves[i] = newFilledLeaf(sectorSize, 1024)
	}
	rz, err := NewRaidZ(leaves, 1, sectorSize, nil)
	require.NoError(t, err)

	// Sequential sector index 5 (offset 5*sectorSize) maps to physical
	// device 5%4==1, per-device sector 5/4==1, well within the first 1 MiB
	// window so no rotation applies: device 0 is parity, device 1 is data.
	data, err := rz.ReadAt(5*int64(sectorSize), 1)
	require.NoError(t, err)

	expectedLeaf := leaves[1].(*fakeLeaf)
	require.Equal(t, expectedLeaf.data[1*sectorSize], data[0])
}

func TestRaidzSizeExcludesParity(t *testing.T) {
	leaves := []Vdev{&fakeLeaf{data: make([]byte, 4096*10)}, &fakeLeaf{data: make([]byte, 4096*10)}, &fakeLeaf{data: make([]byte, 4096*10)}}
	rz, err := NewRaidZ(leaves, 1, 4096, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2*4096*10), rz.Size())
}
