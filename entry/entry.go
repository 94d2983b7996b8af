// Package entry defines the logical trace events decoded from persistent memory traces.
// Every source format (binary or text) produces values of these types.
package entry

import (
	"fmt"
)

// Kind identifies the variant of an Entry.
// The numeric values double as the hwtrace wire discriminant and must never be renumbered.
type Kind uint32

const (
	KindWrite Kind = iota
	KindFence
	KindFlush
	KindRead
	KindHypercall
)

func (k Kind) String() string {
	switch k {
	case KindWrite:
		return "Write"
	case KindFence:
		return "Fence"
	case KindFlush:
		return "Flush"
	case KindRead:
		return "Read"
	case KindHypercall:
		return "Hypercall"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// Entry is one decoded memory operation.
// It is implemented by *Write, *Fence, *Flush, *Read and *Hypercall.
type Entry interface {
	Kind() Kind
	// EntryID is the logical sequence number assigned by the decoder.
	EntryID() uint64
}

// Metadata is execution context attached to writes, fences and flushes.
// Sources without this information leave it zeroed.
type Metadata struct {
	PC               uint64   // program counter
	InKernel         bool     // currently in kernel mode
	KernelStackTrace []uint64 // innermost frame first
}

// IsZero reports whether no metadata was supplied.
func (m Metadata) IsZero() bool {
	return m.PC == 0 && !m.InKernel && len(m.KernelStackTrace) == 0
}

// Write stores Content at Address.
type Write struct {
	ID          uint64
	Address     uint64
	Size        uint64
	Content     []byte
	NonTemporal bool
	Metadata    Metadata
}

// Fence is an ordering instruction such as sfence or mfence.
type Fence struct {
	ID       uint64
	Mnemonic string
	Metadata Metadata
}

// Flush forces the cache line holding Address towards persistent memory.
type Flush struct {
	ID       uint64
	Mnemonic string
	Address  uint64
	Metadata Metadata
}

// Read loads Content from Address.
type Read struct {
	ID      uint64
	Address uint64
	Size    uint64
	Content []byte
}

// Hypercall is a marker injected by the tracer, e.g. a checkpoint.
type Hypercall struct {
	ID     uint64
	Action string
	Value  string
}

func (*Write) Kind() Kind     { return KindWrite }
func (*Fence) Kind() Kind     { return KindFence }
func (*Flush) Kind() Kind     { return KindFlush }
func (*Read) Kind() Kind      { return KindRead }
func (*Hypercall) Kind() Kind { return KindHypercall }

func (e *Write) EntryID() uint64     { return e.ID }
func (e *Fence) EntryID() uint64     { return e.ID }
func (e *Flush) EntryID() uint64     { return e.ID }
func (e *Read) EntryID() uint64      { return e.ID }
func (e *Hypercall) EntryID() uint64 { return e.ID }

// MetadataOf returns the metadata of e, or the zero value for variants that carry none.
func MetadataOf(e Entry) Metadata {
	switch v := e.(type) {
	case *Write:
		return v.Metadata
	case *Fence:
		return v.Metadata
	case *Flush:
		return v.Metadata
	}
	return Metadata{}
}

// LittleEndianContent returns the low size bytes of value in little-endian order.
// size is clamped to 8.
func LittleEndianContent(value uint64, size uint64) []byte {
	if size > 8 {
		size = 8
	}
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(value >> (8 * i))
	}
	return content
}
