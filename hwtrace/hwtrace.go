// Package hwtrace implements the binary trace format written by the hardware tracer
// backend. A trace is a plain concatenation of records; each record is the variant
// discriminant followed by the variant fields in declaration order.
//
// Integers use the variable-length encoding of package wire, booleans a single
// 0/1 byte, byte sequences and strings a length prefix. The layout is pinned to
// FormatVersion: adding a variant or a field is a breaking change.
package hwtrace

import (
	"pmtrace/entry"
)

// FormatVersion identifies the record layout implemented by this package.
const FormatVersion = 1

// maxSeqLen bounds length prefixes so that corrupt input cannot force huge allocations.
const maxSeqLen = 1 << 26

const maxStackDepth = 1 << 16

// Wire discriminants.
const (
	tagWrite     = uint64(entry.KindWrite)
	tagFence     = uint64(entry.KindFence)
	tagFlush     = uint64(entry.KindFlush)
	tagRead      = uint64(entry.KindRead)
	tagHypercall = uint64(entry.KindHypercall)
)
