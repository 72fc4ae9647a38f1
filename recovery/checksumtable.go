// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"encoding/binary"
	"fmt"
	"os"
	"runtime"

	"github.com/Error1000/szfs/vdev"
	"github.com/Error1000/szfs/zfs"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BuildChecksumTable appends sector-by-sector truncated fletcher4
// checksums to the file at path, resuming from the file's current length
// (interpreted as a sector count). Sectors are read in ~1 MiB windows in
// parallel across runtime.NumCPU() workers; each worker's window results
// are written in order once every window in the batch has completed, so
// the output file retains strictly ascending sector order despite
// unordered completion.
func BuildChecksumTable(raidz *vdev.RaidZ, path string, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "checksum-table")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("recovery: open checksum table: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("recovery: stat checksum table: %w", err)
	}
	sectorSize := int64(raidz.SectorSize())
	startSector := fi.Size() / ChecksumTableEntrySize
	diskSectors := raidz.Size() / sectorSize

	windowSectors := int64(1024*1024) / sectorSize
	if windowSectors < 1 {
		windowSectors = 1
	}

	for batchStart := startSector; batchStart < diskSectors; batchStart += windowSectors {
		batchEnd := batchStart + windowSectors
		if batchEnd > diskSectors {
			batchEnd = diskSectors
		}

		nWindows := int(batchEnd - batchStart)
		results := make([]uint32, nWindows)

		g := new(errgroup.Group)
		g.SetLimit(runtime.NumCPU())
		for i := int64(0); i < int64(nWindows); i++ {
			i := i
			g.Go(func() error {
				sector := batchStart + i
				data, err := raidz.ReadAt(sector*sectorSize, int(sectorSize))
				if err != nil {
					log.Warnf("checksum-table: sector %d unreadable: %v", sector, err)
					results[i] = 0
					return nil
				}
				cs := zfs.Fletcher4(data)
				results[i] = uint32(cs[0])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("recovery: checksum table build: %w", err)
		}

		buf := make([]byte, nWindows*ChecksumTableEntrySize)
		for i, v := range results {
			binary.LittleEndian.PutUint32(buf[i*ChecksumTableEntrySize:(i+1)*ChecksumTableEntrySize], v)
		}
		if _, err := f.WriteAt(buf, batchStart*ChecksumTableEntrySize); err != nil {
			return fmt.Errorf("recovery: write checksum table batch: %w", err)
		}
		log.Infof("checksum-table: wrote sectors [%d, %d)", batchStart, batchEnd)
	}

	return nil
}
