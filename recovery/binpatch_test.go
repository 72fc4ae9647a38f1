// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinPatchRoundTrip(t *testing.T) {
	records := []BinPatchRecord{
		{Offset: 0, Data: []byte("hello")},
		{Offset: 4096, Data: []byte{}},
		{Offset: 8192, Data: []byte("a longer replacement region")},
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "patch.bin")
	require.NoError(t, WriteBinPatch(path, records))

	got, err := ReadBinPatch(path)
	require.NoError(t, err)
	require.Len(t, got, len(records))
	for i := range records {
		require.Equal(t, records[i].Offset, got[i].Offset)
		require.Equal(t, len(records[i].Data), len(got[i].Data))
	}
}

func TestApplyBinPatchWritesAtOffsets(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.bin")
	require.NoError(t, os.WriteFile(targetPath, make([]byte, 64), 0o644))

	patchPath := filepath.Join(dir, "patch.bin")
	records := []BinPatchRecord{
		{Offset: 10, Data: []byte("PATCHED")},
	}
	require.NoError(t, WriteBinPatch(patchPath, records))

	target, err := os.OpenFile(targetPath, os.O_RDWR, 0)
	require.NoError(t, err)
	defer target.Close()

	n, err := ApplyBinPatch(target, patchPath)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	require.Equal(t, []byte("PATCHED"), out[10:17])
}
