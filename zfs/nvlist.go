// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import (
	"fmt"

	"github.com/Error1000/szfs/internal/parsebuf"
)

// NVPairType enumerates the XDR value-type tags a name/value pair may
// carry. Only the subset this reader's pool-walker and label-parsing code
// depends on is decoded into typed values; a pair of any other type (the
// 16/32/64-bit integer, string and boolean arrays, and NVList arrays)
// makes decoding fail with ErrUnsupported.
type NVPairType uint32

const (
	NVTypeBoolean NVPairType = 1
	NVTypeByte    NVPairType = 2
	NVTypeInt16   NVPairType = 3
	NVTypeUint16  NVPairType = 4
	NVTypeInt32   NVPairType = 5
	NVTypeUint32  NVPairType = 6
	NVTypeInt64   NVPairType = 7
	NVTypeUint64  NVPairType = 8
	NVTypeString  NVPairType = 9
	NVTypeByteArray NVPairType = 10
	NVTypeInt16Array NVPairType = 11
	NVTypeUint16Array NVPairType = 12
	NVTypeInt32Array NVPairType = 13
	NVTypeUint32Array NVPairType = 14
	NVTypeInt64Array NVPairType = 15
	NVTypeUint64Array NVPairType = 16
	NVTypeStringArray NVPairType = 17
	NVTypeHRTime    NVPairType = 18
	NVTypeNVList    NVPairType = 19
	NVTypeNVListArray NVPairType = 20
	NVTypeBooleanValue NVPairType = 21
	NVTypeInt8      NVPairType = 22
	NVTypeUint8     NVPairType = 23
	NVTypeBooleanArray NVPairType = 24
	NVTypeInt8Array NVPairType = 25
	NVTypeUint8Array NVPairType = 26
)

// NVList is a decoded XDR name/value list.
type NVList struct {
	Version int32
	Flag    uint32
	Pairs   map[string]NVValue
}

// NVValue holds one decoded pair's value. Exactly one of the fields is
// meaningful, selected by Type.
type NVValue struct {
	Type   NVPairType
	Uint64 uint64
	Int64  int64
	String string
	Bytes  []byte
	List   *NVList
}

// Uint64OrZero is a convenience accessor for the common case of reading a
// pool-configuration scalar (e.g. "ashift").
func (v NVValue) Uint64OrZero() uint64 {
	switch v.Type {
	case NVTypeUint64, NVTypeUint32, NVTypeUint16, NVTypeUint8, NVTypeHRTime:
		return v.Uint64
	case NVTypeInt64, NVTypeInt32, NVTypeInt16, NVTypeInt8:
		return uint64(v.Int64)
	default:
		return 0
	}
}

// DecodeNVList parses an XDR-encoded name/value list from the front of
// data, including the 4-byte encoding preamble.
func DecodeNVList(data []byte) (*NVList, error) {
	b := parsebuf.New(data)

	preamble, err := b.Next(4)
	if err != nil {
		return nil, fmt.Errorf("%w: nvlist preamble: %v", ErrMalformed, err)
	}
	encoding, endianness := preamble[0], preamble[1]
	if encoding != 1 {
		return nil, fmt.Errorf("%w: nvlist encoding %d unsupported", ErrUnsupported, encoding)
	}
	if endianness != 1 {
		return nil, fmt.Errorf("%w: big-endian-over-the-wire nvlist rejected", ErrUnsupported)
	}

	return decodeNVListBody(b, 0)
}

func decodeNVListBody(b *parsebuf.ParseBuffer, depth int) (*NVList, error) {
	if depth > NVListRecursionLimit {
		return nil, fmt.Errorf("%w: nvlist nesting exceeds %d", ErrInvariant, NVListRecursionLimit)
	}

	version, err := b.NextUint32BE()
	if err != nil {
		return nil, fmt.Errorf("%w: nvlist version: %v", ErrMalformed, err)
	}
	flag, err := b.NextUint32BE()
	if err != nil {
		return nil, fmt.Errorf("%w: nvlist flag: %v", ErrMalformed, err)
	}

	list := &NVList{Version: int32(version), Flag: flag, Pairs: map[string]NVValue{}}

	for {
		encodedSize, err := b.NextUint32BE()
		if err != nil {
			return nil, fmt.Errorf("%w: nvlist pair encoded_size: %v", ErrMalformed, err)
		}
		decodedSize, err := b.NextUint32BE()
		if err != nil {
			return nil, fmt.Errorf("%w: nvlist pair decoded_size: %v", ErrMalformed, err)
		}
		if encodedSize == 0 && decodedSize == 0 {
			// (0,0) sentinel terminates the pair list.
			return list, nil
		}

		nameLen, err := b.NextUint32BE()
		if err != nil {
			return nil, fmt.Errorf("%w: nvlist pair name length: %v", ErrMalformed, err)
		}
		nameBytes, err := b.Next(int(nameLen))
		if err != nil {
			return nil, fmt.Errorf("%w: nvlist pair name: %v", ErrMalformed, err)
		}
		name := string(nameBytes)
		pad := (4 - int(nameLen)%4) % 4
		if pad > 0 {
			if _, err := b.Next(pad); err != nil {
				return nil, fmt.Errorf("%w: nvlist name padding: %v", ErrMalformed, err)
			}
		}

		valueType, err := b.NextUint32BE()
		if err != nil {
			return nil, fmt.Errorf("%w: nvlist value type: %v", ErrMalformed, err)
		}
		nvalues, err := b.NextUint32BE()
		if err != nil {
			return nil, fmt.Errorf("%w: nvlist nvalues: %v", ErrMalformed, err)
		}

		val, err := decodeNVValue(b, NVPairType(valueType), int(nvalues), depth)
		if err != nil {
			return nil, err
		}
		list.Pairs[name] = val
	}
}

func decodeNVValue(b *parsebuf.ParseBuffer, typ NVPairType, nvalues, depth int) (NVValue, error) {
	switch typ {
	case NVTypeBoolean:
		return NVValue{Type: typ}, nil
	case NVTypeByte, NVTypeInt8, NVTypeUint8, NVTypeBooleanValue:
		v, err := b.NextUint32BE() // packed to 4 bytes on the wire
		if err != nil {
			return NVValue{}, fmt.Errorf("%w: nvlist byte value: %v", ErrMalformed, err)
		}
		return NVValue{Type: typ, Uint64: uint64(v)}, nil
	case NVTypeInt16, NVTypeUint16, NVTypeInt32, NVTypeUint32:
		v, err := b.NextUint32BE()
		if err != nil {
			return NVValue{}, fmt.Errorf("%w: nvlist int32 value: %v", ErrMalformed, err)
		}
		return NVValue{Type: typ, Uint64: uint64(v), Int64: int64(int32(v))}, nil
	case NVTypeInt64, NVTypeUint64, NVTypeHRTime:
		v, err := b.NextUint64BE()
		if err != nil {
			return NVValue{}, fmt.Errorf("%w: nvlist int64 value: %v", ErrMalformed, err)
		}
		return NVValue{Type: typ, Uint64: v, Int64: int64(v)}, nil
	case NVTypeString:
		strLen, err := b.NextUint32BE()
		if err != nil {
			return NVValue{}, fmt.Errorf("%w: nvlist string length: %v", ErrMalformed, err)
		}
		raw, err := b.Next(int(strLen))
		if err != nil {
			return NVValue{}, fmt.Errorf("%w: nvlist string bytes: %v", ErrMalformed, err)
		}
		if pad := (4 - int(strLen)%4) % 4; pad > 0 {
			if _, err := b.Next(pad); err != nil {
				return NVValue{}, fmt.Errorf("%w: nvlist string padding: %v", ErrMalformed, err)
			}
		}
		return NVValue{Type: typ, String: string(raw)}, nil
	case NVTypeByteArray, NVTypeUint8Array, NVTypeInt8Array:
		raw, err := b.Next(nvalues)
		if err != nil {
			return NVValue{}, fmt.Errorf("%w: nvlist byte array: %v", ErrMalformed, err)
		}
		if pad := (4 - nvalues%4) % 4; pad > 0 {
			if _, err := b.Next(pad); err != nil {
				return NVValue{}, fmt.Errorf("%w: nvlist byte array padding: %v", ErrMalformed, err)
			}
		}
		cp := append([]byte(nil), raw...)
		return NVValue{Type: typ, Bytes: cp}, nil
	case NVTypeNVList:
		nested, err := decodeNVListBody(b, depth+1)
		if err != nil {
			return NVValue{}, err
		}
		return NVValue{Type: typ, List: nested}, nil
	default:
		return NVValue{}, fmt.Errorf("%w: nvlist value type %d", ErrUnsupported, typ)
	}
}
