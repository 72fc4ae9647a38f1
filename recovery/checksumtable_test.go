// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/Error1000/szfs/vdev"
	"github.com/Error1000/szfs/zfs"
	"github.com/stretchr/testify/require"
)

// memLeaf is an in-memory vdev.Vdev backing a single unreplicated leaf.
type memLeaf struct{ data []byte }

func (m *memLeaf) ReadAt(offset int64, length int) ([]byte, error) {
	return m.data[offset : offset+int64(length)], nil
}
func (m *memLeaf) WriteAt(offset int64, data []byte) error {
	copy(m.data[offset:], data)
	return nil
}
func (m *memLeaf) Size() int64 { return int64(len(m.data)) }

func TestBuildChecksumTableFromScratch(t *testing.T) {
	const sectorSize = 512
	const nSectors = 8
	data := make([]byte, sectorSize*nSectors)
	for i := range data {
		data[i] = byte(i)
	}
	leaf := &memLeaf{data: data}
	rz, err := vdev.NewRaidZ([]vdev.Vdev{leaf}, 0, sectorSize, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "checksums.map")

	err = BuildChecksumTable(rz, path, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, nSectors*ChecksumTableEntrySize)

	sector0 := data[0:sectorSize]
	expected := uint32(zfs.Fletcher4(sector0)[0])
	got := binary.LittleEndian.Uint32(raw[0:4])
	require.Equal(t, expected, got)
}

func TestBuildChecksumTableResumesFromExistingLength(t *testing.T) {
	const sectorSize = 512
	const nSectors = 8
	data := make([]byte, sectorSize*nSectors)
	leaf := &memLeaf{data: data}
	rz, err := vdev.NewRaidZ([]vdev.Vdev{leaf}, 0, sectorSize, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "checksums.map")

	preexisting := make([]byte, 4*ChecksumTableEntrySize) // pretend sectors 0-3 done
	require.NoError(t, os.WriteFile(path, preexisting, 0o644))

	err = BuildChecksumTable(rz, path, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, nSectors*ChecksumTableEntrySize)
	// The preexisting 16 bytes must be left untouched.
	require.Equal(t, preexisting, raw[:len(preexisting)])
}
