package hwtrace

import (
	"io"

	"pmtrace/entry"
	"pmtrace/internal/common"
	"pmtrace/internal/wire"
)

// Encoder writes hwtrace records to an output stream.
type Encoder struct {
	w   *wire.Writer
	buf []byte
	err error
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: wire.NewWriter(w)}
}

// Err returns the first error that occurred during encoding.
func (e *Encoder) Err() error {
	return e.err
}

// Offset returns the number of bytes written so far.
func (e *Encoder) Offset() int64 {
	return e.w.Offset()
}

// Encode writes one record and returns the number of bytes written. A sink failure
// is permanent: all future calls return the same error.
func (e *Encoder) Encode(ent entry.Entry) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	off := e.w.Offset()
	buf, err := AppendEntry(e.buf[:0], ent)
	if err != nil {
		// Rejected entries leave the stream untouched, so the encoder stays usable.
		return 0, err.(*common.Error).WithOffset(off)
	}
	e.buf = buf
	n, werr := e.w.Write(buf)
	if werr != nil {
		e.err = common.NewErrorWithOffset(common.ErrEncode, off, "write failed").Wrap(werr)
		return n, e.err
	}
	return n, nil
}

// EncodeEntry writes a single record for ent to w.
func EncodeEntry(ent entry.Entry, w io.Writer) (int, error) {
	buf, err := AppendEntry(nil, ent)
	if err != nil {
		return 0, err
	}
	n, werr := w.Write(buf)
	if werr != nil {
		return n, common.NewError(common.ErrEncode, "write failed").Wrap(werr)
	}
	return n, nil
}

// AppendEntry appends the record encoding of ent to b.
func AppendEntry(b []byte, ent entry.Entry) ([]byte, error) {
	switch v := ent.(type) {
	case *entry.Write:
		if err := checkContent(v.Size, v.Content); err != nil {
			return b, err
		}
		b = wire.AppendVarint(b, tagWrite)
		b = wire.AppendVarint(b, v.ID)
		b = wire.AppendVarint(b, v.Address)
		b = wire.AppendVarint(b, v.Size)
		b = wire.AppendBytes(b, v.Content)
		b = wire.AppendBool(b, v.NonTemporal)
		return appendMetadata(b, v.Metadata), nil
	case *entry.Fence:
		b = wire.AppendVarint(b, tagFence)
		b = wire.AppendVarint(b, v.ID)
		b = wire.AppendString(b, v.Mnemonic)
		return appendMetadata(b, v.Metadata), nil
	case *entry.Flush:
		b = wire.AppendVarint(b, tagFlush)
		b = wire.AppendVarint(b, v.ID)
		b = wire.AppendString(b, v.Mnemonic)
		b = wire.AppendVarint(b, v.Address)
		return appendMetadata(b, v.Metadata), nil
	case *entry.Read:
		if err := checkContent(v.Size, v.Content); err != nil {
			return b, err
		}
		b = wire.AppendVarint(b, tagRead)
		b = wire.AppendVarint(b, v.ID)
		b = wire.AppendVarint(b, v.Address)
		b = wire.AppendVarint(b, v.Size)
		return wire.AppendBytes(b, v.Content), nil
	case *entry.Hypercall:
		b = wire.AppendVarint(b, tagHypercall)
		b = wire.AppendVarint(b, v.ID)
		b = wire.AppendString(b, v.Action)
		return wire.AppendString(b, v.Value), nil
	}
	return b, common.NewErrorf(common.ErrEncode, "unsupported entry type %T", ent)
}

func checkContent(size uint64, content []byte) error {
	if uint64(len(content)) != size {
		return common.NewErrorf(common.ErrEncode, "content length %d does not match size %d", len(content), size)
	}
	return nil
}

func appendMetadata(b []byte, m entry.Metadata) []byte {
	b = wire.AppendVarint(b, m.PC)
	b = wire.AppendBool(b, m.InKernel)
	b = wire.AppendVarint(b, uint64(len(m.KernelStackTrace)))
	for _, pc := range m.KernelStackTrace {
		b = wire.AppendVarint(b, pc)
	}
	return b
}
