// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"testing"

	"github.com/Error1000/szfs/zfs"
	"github.com/stretchr/testify/require"
)

// buildPointingDNode returns a DNode whose sole block pointer targets
// childOffset via a vdev-0 DVA, the shape outgoingOffsets/isChildOf expect.
func buildPointingDNode(childOffset int64) *zfs.DNode {
	dva := zfs.DVA{VdevID: 0, SectorOffset: uint64(childOffset) / 512, SizeSectors: 8}
	return &zfs.DNode{
		ObjectType:    zfs.DMUPlainFileContents,
		NBlkPtr:       1,
		BlockPointers: []zfs.BlockPointer{{DVAs: [3]zfs.DVA{dva, {}, {}}, PSize: 4096, LSize: 4096}},
	}
}

func TestLinkDiscoversParentChildEdge(t *testing.T) {
	graph := NewGraph()
	childOffset := int64(4096 * 7)

	parentFrag := &Fragment{Kind: FragmentFileDNode, Offset: 0, DNode: buildPointingDNode(childOffset), Children: map[FragmentHash]bool{}}
	childFrag := &Fragment{Kind: FragmentFileDNode, Offset: childOffset, DNode: &zfs.DNode{ObjectType: zfs.DMUPlainFileContents}, Children: map[FragmentHash]bool{}}

	parentHash := graph.Add([]byte("parent-bytes"), parentFrag)
	childHash := graph.Add([]byte("child-bytes"), childFrag)

	Link(graph)

	require.True(t, graph.Fragments[parentHash].Children[childHash])
	require.Empty(t, graph.Fragments[childHash].Children)
}

func TestIsChildOfMatchesOnlyReferencedOffset(t *testing.T) {
	parent := &Fragment{Kind: FragmentFileDNode, DNode: buildPointingDNode(8192)}
	match := &Fragment{Offset: 8192}
	noMatch := &Fragment{Offset: 16384}

	require.True(t, isChildOf(parent, match))
	require.False(t, isChildOf(parent, noMatch))
}

func TestRebuildRecomputesEdgesFromScratch(t *testing.T) {
	graph := NewGraph()
	childOffset := int64(512 * 3)
	parentFrag := &Fragment{Kind: FragmentFileDNode, Offset: 0, DNode: buildPointingDNode(childOffset), Children: map[FragmentHash]bool{FragmentHash{99}: true}}
	childFrag := &Fragment{Kind: FragmentFileDNode, Offset: childOffset, Children: map[FragmentHash]bool{}}

	parentHash := graph.Add([]byte("p"), parentFrag)
	childHash := graph.Add([]byte("c"), childFrag)

	Rebuild(graph)

	require.False(t, graph.Fragments[parentHash].Children[FragmentHash{99}])
	require.True(t, graph.Fragments[parentHash].Children[childHash])
}

func TestOutgoingOffsetsSkipsEmbeddedAndZeroPointers(t *testing.T) {
	dn := &zfs.DNode{
		BlockPointers: []zfs.BlockPointer{
			{}, // zero pointer, skipped
			{Embedded: true, EmbeddedData: []byte("x")}, // embedded, skipped
		},
	}
	frag := &Fragment{Kind: FragmentFileDNode, DNode: dn}
	require.Empty(t, outgoingOffsets(frag))
}

func TestAggregatedReadFallsBackToNextCandidate(t *testing.T) {
	payload := []byte("recovered block contents")
	goodBP := zfs.BlockPointer{
		Embedded:     true,
		EmbeddedType: zfs.DMUPlainFileContents,
		Compression:  zfs.CompressOff,
		LSize:        len(payload),
		EmbeddedData: payload,
	}
	broken := &zfs.DNode{NLevels: 1, NBlkPtr: 1} // no block pointers, ReadBlock fails
	good := &zfs.DNode{NLevels: 1, NBlkPtr: 1, BlockPointers: []zfs.BlockPointer{goodBP}}

	data, ok := AggregatedRead(nil, nil, nil, []*zfs.DNode{broken, good}, 0)
	require.True(t, ok)
	require.Equal(t, payload, data)
}
