// Package mpk decodes the binary trace written by the instrumentation tracer backend.
//
// A trace starts with a HeaderSize byte prologue whose bytes [8,16) hold the
// declared entry count, followed by fixed-size little-endian records. One record
// may describe a repeated store (a run of same-size sequential writes), which the
// decoder expands into one entry per element.
package mpk

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the size of the stream prologue.
	HeaderSize = 64
	// RecordSize is the size of one wire record.
	RecordSize = 4*4 + 4*8
)

// Header field offsets.
const (
	headerAmountOffset = 8
)

// Record variants.
const (
	VariantWrite     uint32 = 0
	VariantFence     uint32 = 1
	VariantFlush     uint32 = 2
	VariantRead      uint32 = 3
	VariantHypercall uint32 = 4
)

// Mnemonic codes.
const (
	MnemonicSfence uint32 = 1
	MnemonicClwb   uint32 = 1
)

// UnimplementedMnemonic is reported for mnemonic codes the tracer does not define yet.
const UnimplementedMnemonic = "not implemented"

// Flag bits.
const (
	FlagRepSizeMask uint64 = 0x3
	FlagRep         uint64 = 1 << 2
)

// Header is the decoded stream prologue.
type Header struct {
	Amount uint64
	Raw    [HeaderSize]byte
}

// ParseHeader decodes the prologue in b, which must be HeaderSize bytes.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) != HeaderSize {
		return h, errors.Errorf("header is %d bytes, need %d", len(b), HeaderSize)
	}
	copy(h.Raw[:], b)
	h.Amount = binary.LittleEndian.Uint64(b[headerAmountOffset : headerAmountOffset+8])
	return h, nil
}

// Record is one wire record as written by the tracer.
type Record struct {
	Variant         uint32
	Mnemonic        uint32
	RawID           uint32
	NonTemporal     uint32 // carried on the wire, not interpreted
	SizeAndLocation uint64
	Value           uint64
	Address         uint64
	Flags           uint64
}

// Size is the access size, or the element count of a repeat run.
func (r *Record) Size() uint64 {
	return r.SizeAndLocation >> 1
}

// Location is the low bit of SizeAndLocation. The tracer sets it but its meaning is
// undefined; the decoder ignores it.
func (r *Record) Location() bool {
	return r.SizeAndLocation&1 != 0
}

// IsRep reports whether the record declares a repeat run.
func (r *Record) IsRep() bool {
	return r.Flags&FlagRep != 0
}

// RepElemSize returns the element size of a repeat run in bytes.
func (r *Record) RepElemSize() (uint64, error) {
	switch r.Flags & FlagRepSizeMask {
	case 0:
		return 1, nil
	case 1:
		return 2, nil
	case 2:
		return 4, nil
	case 3:
		return 8, nil
	}
	return 0, errors.Errorf("unhandled repeat element size code %d", r.Flags&FlagRepSizeMask)
}

// UnmarshalBinary decodes a record from exactly RecordSize bytes.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return errors.Errorf("record is %d bytes, need %d", len(b), RecordSize)
	}
	le := binary.LittleEndian
	r.Variant = le.Uint32(b[0:])
	r.Mnemonic = le.Uint32(b[4:])
	r.RawID = le.Uint32(b[8:])
	r.NonTemporal = le.Uint32(b[12:])
	r.SizeAndLocation = le.Uint64(b[16:])
	r.Value = le.Uint64(b[24:])
	r.Address = le.Uint64(b[32:])
	r.Flags = le.Uint64(b[40:])
	return nil
}

// MarshalBinary encodes the record in wire layout.
func (r *Record) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, RecordSize))
}

// AppendBinary appends the wire layout of r to b.
func (r *Record) AppendBinary(b []byte) ([]byte, error) {
	le := binary.LittleEndian
	b = le.AppendUint32(b, r.Variant)
	b = le.AppendUint32(b, r.Mnemonic)
	b = le.AppendUint32(b, r.RawID)
	b = le.AppendUint32(b, r.NonTemporal)
	b = le.AppendUint64(b, r.SizeAndLocation)
	b = le.AppendUint64(b, r.Value)
	b = le.AppendUint64(b, r.Address)
	b = le.AppendUint64(b, r.Flags)
	return b, nil
}

// AppendHeader appends a prologue declaring amount entries.
func AppendHeader(b []byte, amount uint64) []byte {
	var h [HeaderSize]byte
	binary.LittleEndian.PutUint64(h[headerAmountOffset:], amount)
	return append(b, h[:]...)
}
