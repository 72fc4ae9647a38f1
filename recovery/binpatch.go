// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recovery

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// BinPatchRecord is one replacement: length bytes of replacement content
// to be written at absolute offset Offset in a target file.
type BinPatchRecord struct {
	Offset int64
	Data   []byte
}

// WriteBinPatch serializes records in order to path as a sequence of
// (offset:u64 LE, length:u64 LE, bytes[length]) entries.
func WriteBinPatch(path string, records []BinPatchRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recovery: create binpatch %s: %w", path, err)
	}
	defer f.Close()

	var header [16]byte
	for _, r := range records {
		binary.LittleEndian.PutUint64(header[0:8], uint64(r.Offset))
		binary.LittleEndian.PutUint64(header[8:16], uint64(len(r.Data)))
		if _, err := f.Write(header[:]); err != nil {
			return fmt.Errorf("recovery: write binpatch record header: %w", err)
		}
		if _, err := f.Write(r.Data); err != nil {
			return fmt.Errorf("recovery: write binpatch record body: %w", err)
		}
	}
	return nil
}

// ReadBinPatch parses every record out of a binpatch file in order.
func ReadBinPatch(path string) ([]BinPatchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recovery: open binpatch %s: %w", path, err)
	}
	defer f.Close()

	var records []BinPatchRecord
	var header [16]byte
	for {
		if _, err := io.ReadFull(f, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("recovery: read binpatch record header: %w", err)
		}
		offset := int64(binary.LittleEndian.Uint64(header[0:8]))
		length := binary.LittleEndian.Uint64(header[8:16])

		data := make([]byte, length)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, fmt.Errorf("recovery: read binpatch record body: %w", err)
		}
		records = append(records, BinPatchRecord{Offset: offset, Data: data})
	}
	return records, nil
}

// ApplyBinPatch replays every record in a binpatch file against target,
// in file order, at each record's absolute offset.
func ApplyBinPatch(target *os.File, binpatchPath string) (int, error) {
	records, err := ReadBinPatch(binpatchPath)
	if err != nil {
		return 0, err
	}
	for i, r := range records {
		if _, err := target.WriteAt(r.Data, r.Offset); err != nil {
			return i, fmt.Errorf("recovery: apply binpatch record %d at offset %d: %w", i, r.Offset, err)
		}
	}
	return len(records), nil
}
