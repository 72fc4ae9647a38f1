// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vdev implements the leaf-device and RAIDZ virtualization layers:
// byte-addressable reads of a backing file or block device, and the
// striping/parity-rotation scheme that turns a set of leaf devices into one
// logical address space.
package vdev // import "github.com/Error1000/szfs/vdev"

import (
	"errors"
	"fmt"
	"io"
)

// ErrOutOfRange is returned when a logical read would touch the label or
// boot regions of a leaf device.
var ErrOutOfRange = errors.New("vdev: read would touch label/boot region")

// Vdev is anything DVAs can be dereferenced against: either a single Leaf
// device (used directly by non-striped pools and in tests) or a RAIDZ
// virtualization across several leaves.
type Vdev interface {
	ReadAt(offset int64, length int) ([]byte, error)
	WriteAt(offset int64, data []byte) error
	Size() int64
}

// Vdevs indexes top-level vdevs by their on-disk vdev_id, the map DVA
// dereference consults.
type Vdevs map[uint64]Vdev

// Leaf is a single backing file or block device. Addresses passed to
// ReadAt/WriteAt are relative to the end of the leading boot region (raw
// file offset 4 MiB); a request that would enter the trailing label region
// is rejected.
type Leaf struct {
	ra   io.ReaderAt
	wa   io.WriterAt
	closer io.Closer
	rawSize int64
}

// NewLeaf wraps an opened file or device. rawSize is the full size of the
// backing object, labels and boot region included.
func NewLeaf(ra io.ReaderAt, wa io.WriterAt, closer io.Closer, rawSize int64) *Leaf {
	return &Leaf{ra: ra, wa: wa, closer: closer, rawSize: rawSize}
}

// Close releases the underlying file handle, if any.
func (l *Leaf) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Size returns the number of logical bytes available for read/write,
// excluding the four 256 KiB labels and the 4 MiB boot region.
func (l *Leaf) Size() int64 {
	s := l.rawSize - BootRegionSize - 2*LabelSize
	if s < 0 {
		return 0
	}
	return s
}

func (l *Leaf) checkRange(offset int64, length int) error {
	if offset < 0 || length < 0 {
		return fmt.Errorf("%w: negative offset or length", ErrOutOfRange)
	}
	if offset+int64(length) > l.Size() {
		return fmt.Errorf("%w: [%d,%d) exceeds leaf logical size %d", ErrOutOfRange, offset, offset+int64(length), l.Size())
	}
	return nil
}

// ReadAt reads length bytes at a logical offset (relative to end-of-boot).
func (l *Leaf) ReadAt(offset int64, length int) ([]byte, error) {
	if err := l.checkRange(offset, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(l.ra, BootRegionSize+offset, int64(length)), buf); err != nil {
		return nil, fmt.Errorf("vdev: leaf read at %d: %w", offset, err)
	}
	return buf, nil
}

// WriteAt writes data at a logical offset. Implemented for completeness;
// the read-only recovery core never calls it.
func (l *Leaf) WriteAt(offset int64, data []byte) error {
	if l.wa == nil {
		return fmt.Errorf("vdev: leaf is read-only")
	}
	if err := l.checkRange(offset, len(data)); err != nil {
		return err
	}
	_, err := l.wa.WriteAt(data, BootRegionSize+offset)
	return err
}

// LabelOffset returns the header offset of label index (0..3) in raw file
// coordinates: labels 0,1 at the start, labels 2,3 at the end.
func (l *Leaf) LabelOffset(index int) (int64, error) {
	switch index {
	case 0:
		return 0, nil
	case 1:
		return LabelSize, nil
	case 2:
		return l.rawSize - 2*LabelSize, nil
	case 3:
		return l.rawSize - LabelSize, nil
	default:
		return 0, fmt.Errorf("vdev: label index %d out of range", index)
	}
}

// ReadLabel reads the full 256 KiB region for label index.
func (l *Leaf) ReadLabel(index int) ([]byte, error) {
	off, err := l.LabelOffset(index)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, LabelSize)
	if _, err := io.ReadFull(io.NewSectionReader(l.ra, off, LabelSize), buf); err != nil {
		return nil, fmt.Errorf("vdev: read label %d: %w", index, err)
	}
	return buf, nil
}

const (
	// BootRegionSize mirrors zfs.BootRegionSize; duplicated here to avoid
	// an import cycle between vdev and zfs (zfs.DVA.Dereference takes a
	// vdev.Vdevs, so vdev cannot import zfs).
	BootRegionSize = 4 * 1024 * 1024
	// LabelSize mirrors zfs.LabelSize.
	LabelSize = 256 * 1024
)
