// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"encoding/binary"
	"fmt"
)

// DecodeLZ4 decodes a ZFS-framed LZ4 block: a 4-byte big-endian payload
// length followed by a standard LZ4 block stream, and returns exactly
// outSize decoded bytes.
func DecodeLZ4(data []byte, outSize int) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: lz4 frame too short for length prefix", ErrMalformed)
	}
	payloadLen := binary.BigEndian.Uint32(data[:4])
	stream := data[4:]
	if int(payloadLen) > len(stream) {
		return nil, fmt.Errorf("%w: lz4 payload length %d exceeds available %d bytes", ErrMalformed, payloadLen, len(stream))
	}
	stream = stream[:payloadLen]

	out := make([]byte, 0, outSize)
	i := 0
	for i < len(stream) {
		token := stream[i]
		i++

		litLen := int(token >> 4)
		if litLen == 0xF {
			for {
				if i >= len(stream) {
					return nil, fmt.Errorf("%w: lz4 stream truncated in literal length", ErrMalformed)
				}
				b := stream[i]
				i++
				litLen += int(b)
				if b != 0xFF {
					break
				}
			}
		}
		if i+litLen > len(stream) {
			return nil, fmt.Errorf("%w: lz4 literal run exceeds stream", ErrMalformed)
		}
		out = append(out, stream[i:i+litLen]...)
		i += litLen

		if len(out) >= outSize {
			break
		}
		if i >= len(stream) {
			// End of stream with no trailing match is legal only when the
			// final token carried no match bits at all, i.e. we just
			// consumed a pure literal run.
			break
		}
		if i+2 > len(stream) {
			return nil, fmt.Errorf("%w: lz4 stream truncated before match offset", ErrMalformed)
		}
		matchOffset := int(binary.LittleEndian.Uint16(stream[i : i+2]))
		i += 2

		matchNibble := int(token & 0xF)
		if matchOffset == 0 && matchNibble == 0 {
			// Legitimate terminator: a zero offset at stream end with a
			// zero match-nibble closes the block rather than encoding a
			// real back-reference.
			break
		}
		if matchOffset == 0 {
			return nil, fmt.Errorf("%w: lz4 zero match offset with nonzero length", ErrMalformed)
		}

		matchLen := matchNibble
		if matchNibble == 0xF {
			for {
				if i >= len(stream) {
					return nil, fmt.Errorf("%w: lz4 stream truncated in match length", ErrMalformed)
				}
				b := stream[i]
				i++
				matchLen += int(b)
				if b != 0xFF {
					break
				}
			}
		}
		matchLen += 4

		if matchOffset > len(out) {
			return nil, fmt.Errorf("%w: lz4 match offset %d exceeds decoded length %d", ErrMalformed, matchOffset, len(out))
		}
		start := len(out) - matchOffset
		for j := 0; j < matchLen; j++ {
			out = append(out, out[start+j])
		}
	}

	if len(out) < outSize {
		return nil, fmt.Errorf("%w: lz4 decoded %d bytes, wanted %d", ErrMalformed, len(out), outSize)
	}
	if outSize == 0 {
		return nil, nil
	}
	return out[:outSize], nil
}

// EncodeLZ4 produces a ZFS-framed LZ4 stream that decodes back to src. It
// favors simplicity over compression ratio: a single greedy literal-only
// encoding is always a valid LZ4 stream, since match references are
// optional.
func EncodeLZ4(src []byte) []byte {
	var stream []byte
	i := 0
	for i < len(src) {
		chunk := src[i:]
		if len(chunk) > 0xFFFFFF {
			chunk = chunk[:0xFFFFFF]
		}
		litLen := len(chunk)
		var token byte
		var extra []byte
		if litLen < 0xF {
			token = byte(litLen << 4)
		} else {
			token = 0xF0
			rem := litLen - 0xF
			for rem >= 0xFF {
				extra = append(extra, 0xFF)
				rem -= 0xFF
			}
			extra = append(extra, byte(rem))
		}
		stream = append(stream, token)
		stream = append(stream, extra...)
		stream = append(stream, chunk...)
		i += litLen
	}
	// Terminator: zero offset, zero match-nibble already implied by the
	// absence of any trailing match bytes (no match was ever emitted).

	out := make([]byte, 4+len(stream))
	binary.BigEndian.PutUint32(out[:4], uint32(len(stream)))
	copy(out[4:], stream)
	return out
}
