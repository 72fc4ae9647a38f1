// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package parsebuf provides a small cursor over an in-memory byte slice for
// decoding fixed and variable-length on-disk structures. It supports both
// little-endian (ZFS on-disk structures) and big-endian (XDR encoded name/
// value lists) reads from the same buffer.
package parsebuf // import "github.com/Error1000/szfs/internal/parsebuf"

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned whenever a read would run past the end of the
// buffer.
var ErrShortBuffer = errors.New("parsebuf: short buffer")

// ParseBuffer is a forward-and-backward seekable cursor over a byte slice.
// It never copies the underlying slice; callers that need to retain a
// sub-range beyond the buffer's lifetime must copy it themselves.
type ParseBuffer struct {
	buf []byte
	off int
}

// New returns a ParseBuffer positioned at the start of buf.
func New(buf []byte) *ParseBuffer {
	return &ParseBuffer{buf: buf}
}

// Offset returns the current read position.
func (b *ParseBuffer) Offset() int { return b.off }

// SetOffset repositions the cursor. It does not validate bounds eagerly;
// the next read will fail if the offset is out of range.
func (b *ParseBuffer) SetOffset(off int) { b.off = off }

// Len returns the total buffer length.
func (b *ParseBuffer) Len() int { return len(b.buf) }

// Unread returns the number of bytes remaining after the cursor.
func (b *ParseBuffer) Unread() int {
	if b.off >= len(b.buf) {
		return 0
	}
	return len(b.buf) - b.off
}

// Bytes returns the full backing slice (not just the unread portion).
func (b *ParseBuffer) Bytes() []byte { return b.buf }

// Next reads and returns the next n bytes without copying. The returned
// slice aliases the buffer.
func (b *ParseBuffer) Next(n int) ([]byte, error) {
	if n < 0 || b.off+n > len(b.buf) {
		return nil, fmt.Errorf("%w: want %d bytes at offset %d, have %d", ErrShortBuffer, n, b.off, len(b.buf))
	}
	s := b.buf[b.off : b.off+n]
	b.off += n
	return s, nil
}

// Peek behaves like Next but does not advance the cursor.
func (b *ParseBuffer) Peek(n int) ([]byte, error) {
	if n < 0 || b.off+n > len(b.buf) {
		return nil, fmt.Errorf("%w: want %d bytes at offset %d, have %d", ErrShortBuffer, n, b.off, len(b.buf))
	}
	return b.buf[b.off : b.off+n], nil
}

// Skip advances the cursor by n bytes. Negative n rewinds it instead.
func (b *ParseBuffer) Skip(n int) {
	b.off += n
}

// NextUint8 reads a single byte.
func (b *ParseBuffer) NextUint8() (uint8, error) {
	s, err := b.Next(1)
	if err != nil {
		return 0, err
	}
	return s[0], nil
}

// NextUint16LE reads a little-endian uint16.
func (b *ParseBuffer) NextUint16LE() (uint16, error) {
	s, err := b.Next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(s), nil
}

// NextUint32LE reads a little-endian uint32.
func (b *ParseBuffer) NextUint32LE() (uint32, error) {
	s, err := b.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s), nil
}

// NextUint64LE reads a little-endian uint64.
func (b *ParseBuffer) NextUint64LE() (uint64, error) {
	s, err := b.Next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(s), nil
}

// NextUint32BE reads a big-endian uint32 (used by the XDR nvlist format).
func (b *ParseBuffer) NextUint32BE() (uint32, error) {
	s, err := b.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(s), nil
}

// NextUint64BE reads a big-endian uint64 (used by the XDR nvlist format and
// by big-endian-packed ZAP chunk payloads).
func (b *ParseBuffer) NextUint64BE() (uint64, error) {
	s, err := b.Next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(s), nil
}

// NextUintN reads an n-byte (1, 2, 4 or 8) big-endian integer, the shape
// system-attribute and ZAP records use to store variable-width scalars.
func (b *ParseBuffer) NextUintN(n int) (uint64, error) {
	switch n {
	case 1:
		v, err := b.NextUint8()
		return uint64(v), err
	case 2:
		s, err := b.Next(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint16(s)), nil
	case 4:
		v, err := b.NextUint32BE()
		return uint64(v), err
	case 8:
		return b.NextUint64BE()
	default:
		return 0, fmt.Errorf("parsebuf: unsupported integer width %d", n)
	}
}
