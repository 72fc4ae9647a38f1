// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recovery implements the two recovery-only subsystems: YOLO
// block recovery (fletcher4-convolution search for a block whose location
// is unknown but whose checksum is) and the undelete/orphan-recovery
// engine (fragment-graph reconstruction over an unreachable filesystem).
package recovery // import "github.com/Error1000/szfs/recovery"

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"runtime"
	"sync"

	"github.com/Error1000/szfs/vdev"
	"github.com/Error1000/szfs/zfs"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ChecksumTableEntrySize is the width of one packed entry in a checksum-
// map file: the low 32 bits of a sector's fletcher4 s1 lane.
const ChecksumTableEntrySize = 4

// YoloCacheEntry is one row of the persisted positive/negative cache.
type YoloCacheEntry struct {
	Checksum [4]uint64 `json:"checksum"`
	PSize    int       `json:"psize"`
	Offset   *int64    `json:"offset"` // nil means a cached negative result
}

type yoloCacheKey struct {
	checksum [4]uint64
	psize    int
}

// YoloEngine implements zfs.YoloFinder: it locates a block by sweeping a
// precomputed checksum-map file and convolving against the RAIDZ parity
// mask for the pointer's physical size.
type YoloEngine struct {
	raidz           *vdev.RaidZ
	vdevs           vdev.Vdevs
	checksumMapPath string
	cachePath       string
	log             logrus.FieldLogger

	mu    sync.Mutex
	cache map[yoloCacheKey]*int64
}

// NewYoloEngine constructs an engine bound to a RAIDZ array, the top-level
// vdev map (for full-block verification), and the on-disk checksum-map and
// persistent-cache file paths.
func NewYoloEngine(raidz *vdev.RaidZ, vdevs vdev.Vdevs, checksumMapPath, cachePath string, log logrus.FieldLogger) *YoloEngine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &YoloEngine{
		raidz:           raidz,
		vdevs:           vdevs,
		checksumMapPath: checksumMapPath,
		cachePath:       cachePath,
		log:             log.WithField("component", "yolo"),
		cache:           make(map[yoloCacheKey]*int64),
	}
	e.loadCache()
	return e
}

func (e *YoloEngine) loadCache() {
	f, err := os.Open(e.cachePath)
	if err != nil {
		return // absent cache file is not an error, just an empty start
	}
	defer f.Close()
	var entries []YoloCacheEntry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		e.log.Warnf("yolo: failed to decode cache file %s: %v", e.cachePath, err)
		return
	}
	for _, ent := range entries {
		e.cache[yoloCacheKey{checksum: ent.Checksum, psize: ent.PSize}] = ent.Offset
	}
}

// saveCache persists the cache. Failure to save is logged but never fatal:
// the next query simply repeats the scan.
func (e *YoloEngine) saveCache() {
	entries := make([]YoloCacheEntry, 0, len(e.cache))
	for k, v := range e.cache {
		entries = append(entries, YoloCacheEntry{Checksum: k.checksum, PSize: k.psize, Offset: v})
	}
	f, err := os.Create(e.cachePath)
	if err != nil {
		e.log.Warnf("yolo: failed to persist cache file %s: %v", e.cachePath, err)
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(entries); err != nil {
		e.log.Warnf("yolo: failed to encode cache file %s: %v", e.cachePath, err)
	}
}

// calculateConvolutionVector builds the length-(dataSectors+parity) mask
// for a block of psize bytes starting at byte offset off: true where a
// data sector would land, false where a parity sector would fall,
// applying the 1 MiB single-parity rotation rule.
func calculateConvolutionVector(off int64, psize, sectorSize, ndevices, nparity int) []bool {
	isRaidz1 := nparity == 1
	rotated := isRaidz1 && (off/vdev.RaidzParityRotationWindow)%2 != 0

	remaining := psize / sectorSize
	var res []bool
	for index := 0; remaining > 0; index++ {
		device := index % ndevices
		eff := device
		if rotated {
			if device == 0 {
				eff = 1
			} else if device == 1 {
				eff = 0
			}
		}
		if eff < nparity {
			res = append(res, false)
			continue
		}
		res = append(res, true)
		remaining--
	}
	return res
}

// convolvePartialChecksums computes, for every starting sector k, the
// direct (not FFT) convolution of sectorChecksums with the reversed
// parity-aware mask: an approximation of what the block's fletcher4 s1
// would equal (mod 2^32) if the block began at sector k.
func convolvePartialChecksums(mask []bool, sectorChecksums []uint32) []uint32 {
	// Reverse the mask, matching the reference convolution direction.
	rev := make([]bool, len(mask))
	for i, v := range mask {
		rev[len(mask)-1-i] = v
	}

	n := len(sectorChecksums) - len(rev) + 1
	if n <= 0 {
		return nil
	}
	out := make([]uint32, n)
	for k := 0; k < n; k++ {
		var sum uint32
		for j, include := range rev {
			if include {
				sum += sectorChecksums[k+len(rev)-1-j]
			}
		}
		out[k] = sum
	}
	return out
}

// FindBlockByChecksum implements zfs.YoloFinder, per §4.7 of the design.
func (e *YoloEngine) FindBlockByChecksum(checksum zfs.Checksum, psize int) (int64, bool) {
	key := yoloCacheKey{checksum: [4]uint64(checksum), psize: psize}

	e.mu.Lock()
	if cached, ok := e.cache[key]; ok {
		e.mu.Unlock()
		if cached == nil {
			return 0, false
		}
		return *cached, true
	}
	e.mu.Unlock()

	offset, found := e.scan(checksum, psize)

	e.mu.Lock()
	if found {
		o := offset
		e.cache[key] = &o
	} else {
		e.cache[key] = nil
	}
	e.saveCache()
	e.mu.Unlock()

	return offset, found
}

func (e *YoloEngine) scan(checksum zfs.Checksum, psize int) (int64, bool) {
	info := e.raidz.Info()
	sectorSize := e.raidz.SectorSize()

	f, err := os.Open(e.checksumMapPath)
	if err != nil {
		e.log.Warnf("yolo: cannot open checksum map %s: %v", e.checksumMapPath, err)
		return 0, false
	}
	sizeInfo, err := f.Stat()
	f.Close()
	if err != nil {
		return 0, false
	}
	diskSize := (sizeInfo.Size() / ChecksumTableEntrySize) * int64(sectorSize)

	target := uint32(checksum[0])
	blockSizeUpperBoundSectors := psize/sectorSize + psize/sectorSize/(info.NDevices-1) + 1

	e.log.Warnf("yolo: scanning for block with checksum %v psize %d using sector size %d", checksum, psize, sectorSize)

	const window = 1024 * 1024
	type match struct{ offset int64 }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	var foundMu sync.Mutex
	var foundOffset int64
	var foundAny bool

	for start := int64(0); start < diskSize; start += window {
		start := start
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			cf, err := os.Open(e.checksumMapPath)
			if err != nil {
				return nil
			}
			defer cf.Close()

			entryCount := window/sectorSize + blockSizeUpperBoundSectors
			hunk := make([]byte, entryCount*ChecksumTableEntrySize)
			readOffset := (start / int64(sectorSize)) * ChecksumTableEntrySize
			n, _ := cf.ReadAt(hunk, readOffset)
			hunk = hunk[:n]

			checksums := make([]uint32, len(hunk)/ChecksumTableEntrySize)
			for i := range checksums {
				checksums[i] = binary.LittleEndian.Uint32(hunk[i*ChecksumTableEntrySize : (i+1)*ChecksumTableEntrySize])
			}

			mask := calculateConvolutionVector(start, psize, sectorSize, info.NDevices, info.NParity)
			results := convolvePartialChecksums(mask, checksums)

			for i, r := range results {
				if r != target {
					continue
				}
				candidateOffset := start + int64(i)*int64(sectorSize)

				dva := zfs.DVA{VdevID: 0, SectorOffset: uint64(candidateOffset) / 512, SizeSectors: uint32(psize / 512)}
				data, err := dva.Dereference(e.vdevs, psize, nil)
				if err != nil {
					continue
				}
				if zfs.Fletcher4(data) != checksum {
					continue
				}

				foundMu.Lock()
				if !foundAny {
					foundAny = true
					foundOffset = candidateOffset
				}
				foundMu.Unlock()
				cancel()
				return nil
			}
			return nil
		})
	}

	_ = g.Wait()

	if foundAny {
		e.log.Warnf("yolo: recovery succeeded for checksum %v at offset %d", checksum, foundOffset)
		return foundOffset, true
	}
	e.log.Warnf("yolo: recovery failed for checksum %v", checksum)
	return 0, false
}
