package wire

import (
	"encoding/binary"
	"io"
)

// Variable-length integer tags: values below tagU16 are stored in the tag byte itself,
// otherwise the tag is followed by a little-endian u16, u32 or u64.
const (
	tagU16 = 251
	tagU32 = 252
	tagU64 = 253
)

// AppendVarint appends the variable-length encoding of v to b.
func AppendVarint(b []byte, v uint64) []byte {
	switch {
	case v < tagU16:
		return append(b, byte(v))
	case v <= 0xFFFF:
		b = append(b, tagU16)
		return binary.LittleEndian.AppendUint16(b, uint16(v))
	case v <= 0xFFFFFFFF:
		b = append(b, tagU32)
		return binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	b = append(b, tagU64)
	return binary.LittleEndian.AppendUint64(b, v)
}

// AppendBool appends a single 0/1 byte.
func AppendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// AppendBytes appends a length-prefixed byte sequence.
func AppendBytes(b []byte, p []byte) []byte {
	b = AppendVarint(b, uint64(len(p)))
	return append(b, p...)
}

// AppendString appends a length-prefixed string.
func AppendString(b []byte, s string) []byte {
	b = AppendVarint(b, uint64(len(s)))
	return append(b, s...)
}

// Writer counts the bytes written to an underlying io.Writer.
type Writer struct {
	w   io.Writer
	off int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 {
	return w.off
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.off += int64(n)
	return n, err
}
