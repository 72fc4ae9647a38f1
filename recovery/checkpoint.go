// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"encoding/json"
	"os"

	"github.com/Error1000/szfs/vdev"
	"github.com/sirupsen/logrus"
)

// Checkpoint is the periodic progress record a long scan writes so it can
// resume from where it left off after an interruption, rather than
// rescanning from byte zero.
type Checkpoint struct {
	NextOffset int64  `json:"next_offset"`
	Pass       string `json:"pass"`
}

// CheckpointInterval is the default spacing between checkpoint writes
// during a full-disk sweep, per the "every ~50 GiB" cadence.
const CheckpointInterval = 50 * 1024 * 1024 * 1024

// SaveCheckpoint writes cp to path, overwriting any prior checkpoint.
// Failure is logged and swallowed: a missed checkpoint only costs a
// restart rescanning further back, it never corrupts the scan itself.
func SaveCheckpoint(path string, cp Checkpoint, log logrus.FieldLogger) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	f, err := os.Create(path)
	if err != nil {
		log.Warnf("checkpoint: failed to create %s: %v", path, err)
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(cp); err != nil {
		log.Warnf("checkpoint: failed to encode %s: %v", path, err)
	}
}

// LoadCheckpoint reads a previously saved checkpoint. A missing or
// corrupt file is not an error: the caller restarts the pass from offset
// zero.
func LoadCheckpoint(path string) (Checkpoint, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Checkpoint{}, false
	}
	defer f.Close()
	var cp Checkpoint
	if err := json.NewDecoder(f).Decode(&cp); err != nil {
		return Checkpoint{}, false
	}
	return cp, true
}

// ScanWithCheckpoints runs the pass-1 probe in CheckpointInterval-sized
// slices over [start, end), saving a checkpoint after each slice and
// merging every slice's fragments into one graph. vdevs may be nil, in
// which case indirect-block candidates are skipped (they require a live
// dereference to validate) but object-set and DNode candidates are still
// recognized.
func ScanWithCheckpoints(raidz *vdev.RaidZ, vdevs vdev.Vdevs, graph *Graph, start, end int64, checkpointPath string, log logrus.FieldLogger) (*Graph, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if graph == nil {
		graph = NewGraph()
	}

	const probeStride = 512

	for sliceStart := start; sliceStart < end; sliceStart += CheckpointInterval {
		sliceEnd := sliceStart + CheckpointInterval
		if sliceEnd > end {
			sliceEnd = end
		}

		for off := sliceStart; off < sliceEnd; off += probeStride {
			raw, err := raidz.ReadAt(off, probeSizes[len(probeSizes)-1])
			if err != nil {
				continue
			}
			if frag, ok := tryParseFragment(raw, off, vdevs); ok {
				graph.Add(raw[:frag.Size], frag)
			}
		}

		SaveCheckpoint(checkpointPath, Checkpoint{NextOffset: sliceEnd, Pass: "scan"}, log)
		log.Infof("checkpoint: scan reached offset %d of %d", sliceEnd, end)
	}

	return graph, nil
}
