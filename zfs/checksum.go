// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import "encoding/binary"

// Checksum is the 4x64-bit checksum value carried by a block pointer.
type Checksum [4]uint64

// Fletcher4 computes the fletcher4 checksum over data, treating it as a
// sequence of little-endian uint32 lanes. Trailing bytes that do not form a
// complete 4-byte word are dropped, matching the reference behavior.
func Fletcher4(data []byte) Checksum {
	var s1, s2, s3, s4 uint64
	n := len(data) - len(data)%4
	for i := 0; i < n; i += 4 {
		w := uint64(binary.LittleEndian.Uint32(data[i : i+4]))
		s1 += w
		s2 += s1
		s3 += s2
		s4 += s3
	}
	return Checksum{s1, s2, s3, s4}
}

// Fletcher2 computes the fletcher2 checksum over data, treating it as a
// sequence of little-endian uint64 lanes consumed in pairs.
func Fletcher2(data []byte) Checksum {
	var s1, s2, s3, s4 uint64
	n := len(data) - len(data)%16
	for i := 0; i < n; i += 16 {
		w0 := binary.LittleEndian.Uint64(data[i : i+8])
		w1 := binary.LittleEndian.Uint64(data[i+8 : i+16])
		s1 += w0
		s2 += w1
		s3 += s1
		s4 += s2
	}
	return Checksum{s1, s2, s3, s4}
}

// Compute dispatches to the algorithm named by kind after alias resolution.
// It returns false if kind is not supported.
func Compute(kind ChecksumKind, data []byte) (Checksum, bool) {
	switch kind.Resolved() {
	case ChecksumFletcher4:
		return Fletcher4(data), true
	case ChecksumFletcher2:
		return Fletcher2(data), true
	default:
		return Checksum{}, false
	}
}
