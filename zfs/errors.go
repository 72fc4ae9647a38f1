// Copyright 2023 The szfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zfs

import "errors"

// The four error classes distinguished throughout this module. Parse
// helpers that need only a yes/no answer return (zero value, false)
// instead of wrapping one of these; callers that need to report *why* a
// structure was rejected use these sentinels with errors.Is.
var (
	// ErrMalformed marks an on-disk structure that failed a shape or magic
	// check. Callers typically try the next candidate (DVA, leaf, offset).
	ErrMalformed = errors.New("zfs: malformed on-disk structure")

	// ErrUnreadable marks an I/O error, out-of-range access, or a checksum
	// failure after exhausting every DVA and YOLO recovery.
	ErrUnreadable = errors.New("zfs: block unreadable")

	// ErrUnsupported marks a feature flag, checksum kind, or compression
	// kind this package does not implement.
	ErrUnsupported = errors.New("zfs: unsupported feature")

	// ErrInvariant marks a claim the on-disk format makes that cannot be
	// true, such as a DNode's declared size disagreeing with its slot
	// count. Fatal for ordinary reads; recoverable scans skip the block.
	ErrInvariant = errors.New("zfs: invariant violation")
)
