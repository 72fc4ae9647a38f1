// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vdev

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// sectorKey identifies one physical sector cache entry.
type sectorKey struct {
	device int
	sector int64
}

// blockKey identifies one fully-decoded logical block in the block cache.
// checksumKind is carried so that a block whose checksum algorithm changed
// (should never happen for the same key in practice) cannot collide.
type blockKey struct {
	checksum     [4]uint64
	checksumKind uint8
}

// RaidZ stripes logical sectors across N leaf devices with P rotating
// parity columns. It owns a bounded sector cache and a bounded decoded-
// block cache. Concurrent logical reads are serialized internally: ReadAt
// holds mu for the duration of each read.
type RaidZ struct {
	mu         sync.Mutex
	leaves     []Vdev // indexed by physical device id 0..N-1
	nparity    int
	sectorSize int
	log        logrus.FieldLogger

	sectorCache *lru.Cache[sectorKey, []byte]
	blockCache  *lru.Cache[blockKey, cachedBlock]
}

type cachedBlock struct {
	data []byte
	ok   bool
}

// NewRaidZ builds a RAIDZ vdev over leaves (ordered by physical device id)
// with nparity rotating parity columns and the given sector size.
func NewRaidZ(leaves []Vdev, nparity, sectorSize int, log logrus.FieldLogger) (*RaidZ, error) {
	if nparity >= len(leaves) {
		return nil, fmt.Errorf("vdev: nparity %d must be less than device count %d", nparity, len(leaves))
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	sectorCache, err := lru.New[sectorKey, []byte](4096)
	if err != nil {
		return nil, err
	}
	blockCache, err := lru.New[blockKey, cachedBlock](1024)
	if err != nil {
		return nil, err
	}
	return &RaidZ{
		leaves:      leaves,
		nparity:     nparity,
		sectorSize:  sectorSize,
		log:         log.WithField("component", "raidz"),
		sectorCache: sectorCache,
		blockCache:  blockCache,
	}, nil
}

// NDevices returns the number of member leaf devices.
func (r *RaidZ) NDevices() int { return len(r.leaves) }

// NParity returns the configured rotating-parity column count.
func (r *RaidZ) NParity() int { return r.nparity }

// SectorSize returns the pool-wide sector size in bytes.
func (r *RaidZ) SectorSize() int { return r.sectorSize }

// Size reports the logical data capacity (device count minus parity,
// times the smallest member's capacity).
func (r *RaidZ) Size() int64 {
	min := int64(-1)
	for _, l := range r.leaves {
		s := l.Size()
		if min < 0 || s < min {
			min = s
		}
	}
	if min < 0 {
		return 0
	}
	dataFraction := int64(len(r.leaves)-r.nparity) * min
	return dataFraction
}

// isRotated reports whether the single-parity column-rotation rule applies
// to a logical read beginning at byte offset o.
func isRotated(nparity int, o int64) bool {
	if nparity != 1 {
		return false
	}
	return (o/RaidzParityRotationWindow)%2 != 0
}

// RaidzParityRotationWindow mirrors zfs.RaidzParityRotationWindow.
const RaidzParityRotationWindow = 1024 * 1024

// isParityDevice reports whether physical device d carries a parity
// column for a request with the given rotation flag.
func isParityDevice(d, nparity int, rotated bool) bool {
	eff := d
	if rotated {
		if d == 0 {
			eff = 1
		} else if d == 1 {
			eff = 0
		}
	}
	return eff < nparity
}

func (r *RaidZ) readSector(device int, sector int64) ([]byte, error) {
	key := sectorKey{device: device, sector: sector}
	if cached, ok := r.sectorCache.Get(key); ok {
		return cached, nil
	}
	if device < 0 || device >= len(r.leaves) {
		return nil, fmt.Errorf("vdev: raidz device index %d out of range", device)
	}
	data, err := r.leaves[device].ReadAt(sector*int64(r.sectorSize), r.sectorSize)
	if err != nil {
		return nil, fmt.Errorf("vdev: raidz read device %d sector %d: %w", device, sector, err)
	}
	r.sectorCache.Add(key, data)
	return data, nil
}

// ReadAt performs a logical RAIDZ read of length bytes starting at the
// interleaved sector-address offset o (the same address space DVA offsets
// use, counting parity sectors). See §4.2 of the design for the stripe
// layout this implements.
func (r *RaidZ) ReadAt(o int64, length int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := int64(r.sectorSize)
	f := o / a
	t := int(o % a)

	rotated := isRotated(r.nparity, o)
	n := len(r.leaves)

	var data []byte
	for s := f; len(data) < t+length; s++ {
		device := int(s % int64(n))
		if isParityDevice(device, r.nparity, rotated) {
			continue
		}
		perDeviceSector := s / int64(n)
		sec, err := r.readSector(device, perDeviceSector)
		if err != nil {
			return nil, err
		}
		data = append(data, sec...)
	}

	if t+length > len(data) {
		return nil, fmt.Errorf("vdev: raidz short read at %d", o)
	}
	return data[t : t+length], nil
}

// WriteAt is not implemented: parity recomputation on write is an
// acknowledged gap (the core is read-mostly recovery tooling).
func (r *RaidZ) WriteAt(offset int64, data []byte) error {
	return fmt.Errorf("vdev: raidz write unsupported (parity recomputation not implemented)")
}

// CachedBlock returns a previously cached decoded block for (checksum,
// checksumKind), if any. The boolean ok distinguishes "not in cache" from
// a cached negative result (a block known to be unrecoverable).
func (r *RaidZ) CachedBlock(checksum [4]uint64, checksumKind uint8) (data []byte, cachedNegative bool, present bool) {
	v, present := r.blockCache.Get(blockKey{checksum: checksum, checksumKind: checksumKind})
	if !present {
		return nil, false, false
	}
	return v.data, !v.ok, true
}

// CacheBlock records a decoded block (ok=true) or a known-unrecoverable
// result (ok=false) for (checksum, checksumKind).
func (r *RaidZ) CacheBlock(checksum [4]uint64, checksumKind uint8, data []byte, ok bool) {
	r.blockCache.Add(blockKey{checksum: checksum, checksumKind: checksumKind}, cachedBlock{data: data, ok: ok})
}

// RaidzInfo reports the static shape of the array, used by the YOLO
// convolution mask builder.
type RaidzInfo struct {
	NDevices int
	NParity  int
}

// Info returns the RAIDZ array's shape.
func (r *RaidZ) Info() RaidzInfo {
	return RaidzInfo{NDevices: len(r.leaves), NParity: r.nparity}
}
