// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"runtime"
	"sync"

	"github.com/Error1000/szfs/vdev"
	"github.com/Error1000/szfs/zfs"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scan is pass 1: at every 512-byte-aligned offset in [start, end), probe
// for a Fragment candidate and insert successful parses into the
// returned graph. Work is sharded into ~1 MiB windows across a worker
// pool; checkpoints are written by the caller (see Checkpoint) at the
// cadence it chooses.
func Scan(raidz *vdev.RaidZ, vdevs vdev.Vdevs, start, end int64, log logrus.FieldLogger) (*Graph, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "undelete-scan")

	graph := NewGraph()
	var mu sync.Mutex

	const window = 1024 * 1024
	const probeStride = 512

	for batchStart := start; batchStart < end; batchStart += window {
		batchEnd := batchStart + window
		if batchEnd > end {
			batchEnd = end
		}

		g := new(errgroup.Group)
		g.SetLimit(runtime.NumCPU())

		nProbes := int((batchEnd - batchStart) / probeStride)
		for i := 0; i < nProbes; i++ {
			off := batchStart + int64(i)*probeStride
			g.Go(func() error {
				maxProbe := probeSizes[len(probeSizes)-1]
				raw, err := raidz.ReadAt(off, maxProbe)
				if err != nil {
					return nil // unreadable offsets are expected and silent during scanning
				}
				frag, ok := tryParseFragment(raw, off, vdevs)
				if !ok {
					return nil
				}
				mu.Lock()
				graph.Add(raw[:frag.Size], frag)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		log.Infof("undelete-scan: processed offsets [%d, %d), %d fragments so far", batchStart, batchEnd, len(graph.Fragments))
	}

	return graph, nil
}

// outgoingOffsets returns the byte offsets a fragment's block pointers
// reference, the set pass 2 and pass 3 use to find children.
func outgoingOffsets(f *Fragment) []int64 {
	var bps []zfs.BlockPointer
	switch f.Kind {
	case FragmentIndirectBlock:
		bps = f.IndirectBlock
	case FragmentFileDNode, FragmentDirectoryDNode:
		if f.DNode != nil {
			bps = f.DNode.BlockPointers
		}
	case FragmentObjSetDNode:
		if f.ObjSet != nil && f.ObjSet.MetaDNode != nil {
			bps = f.ObjSet.MetaDNode.BlockPointers
		}
	}
	var offs []int64
	for _, bp := range bps {
		if bp.Embedded || bp.IsZero() {
			continue
		}
		for _, dva := range bp.DVAs {
			if dva != (zfs.DVA{}) {
				offs = append(offs, dva.ByteOffset())
			}
		}
	}
	return offs
}

// isChildOf reports whether candidate is reachable from parent's outgoing
// block pointers by on-disk offset, implementing §4.9 pass 2's
// is_child_of pattern match.
func isChildOf(parent, candidate *Fragment) bool {
	for _, off := range outgoingOffsets(parent) {
		if off == candidate.Offset {
			return true
		}
	}
	return false
}

// Link is pass 2: for each ordered pair of fragments, record an edge when
// isChildOf holds.
func Link(graph *Graph) {
	byOffset := make(map[int64][]FragmentHash, len(graph.Fragments))
	for h, f := range graph.Fragments {
		byOffset[f.Offset] = append(byOffset[f.Offset], h)
	}

	for _, parent := range graph.Fragments {
		for _, off := range outgoingOffsets(parent) {
			for _, childHash := range byOffset[off] {
				parent.Children[childHash] = true
			}
		}
	}
}

// Expand is pass 3: from every fragment currently in the graph,
// dereference block pointers that point at offsets not yet present as
// fragments, parse the target bytes as fragments in their own right, and
// add them (and anything they in turn point to) to the graph.
func Expand(raidz *vdev.RaidZ, vdevs vdev.Vdevs, graph *Graph, log logrus.FieldLogger) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "undelete-expand")

	seen := make(map[int64]bool, len(graph.Fragments))
	for _, f := range graph.Fragments {
		seen[f.Offset] = true
	}

	queue := make([]int64, 0, len(graph.Fragments))
	for off := range seen {
		queue = append(queue, off)
	}

	for len(queue) > 0 {
		// Process by reading a generous window at each offset and trying
		// to parse it as a fragment, the same way the initial scan does.
		off := queue[0]
		queue = queue[1:]

		raw, err := raidz.ReadAt(off, probeSizes[len(probeSizes)-1])
		if err != nil {
			continue
		}
		frag, ok := tryParseFragment(raw, off, vdevs)
		if !ok {
			continue
		}
		graph.Add(raw[:frag.Size], frag)

		for _, childOff := range outgoingOffsets(frag) {
			if !seen[childOff] {
				seen[childOff] = true
				queue = append(queue, childOff)
			}
		}
	}

	log.Infof("undelete-expand: graph now has %d fragments", len(graph.Fragments))
}

// Rebuild is pass 4: re-run Link after Expand has added new fragments.
func Rebuild(graph *Graph) {
	for _, f := range graph.Fragments {
		f.Children = map[FragmentHash]bool{}
	}
	Link(graph)
}

// AggregatedRead tries each candidate FileDNode fragment's ReadBlock in
// turn and returns the first that succeeds, tolerating the case where
// different snapshots of "the same file" preserve different blocks.
func AggregatedRead(vdevs vdev.Vdevs, log logrus.FieldLogger, yolo zfs.YoloFinder, candidates []*zfs.DNode, blockIndex uint64) ([]byte, bool) {
	for _, dn := range candidates {
		bp, err := dn.ReadBlock(vdevs, logAdapterRecovery{log}, yolo, blockIndex)
		if err != nil {
			continue
		}
		data, err := bp.Dereference(vdevs, logAdapterRecovery{log}, yolo)
		if err != nil {
			continue
		}
		return data, true
	}
	return nil, false
}

type logAdapterRecovery struct{ l logrus.FieldLogger }

func (a logAdapterRecovery) Warnf(format string, args ...interface{}) {
	if a.l != nil {
		a.l.Warnf(format, args...)
	}
}
