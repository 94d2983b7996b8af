package hwtrace

import (
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"

	"pmtrace/entry"
	"pmtrace/internal/common"
	"pmtrace/internal/wire"
)

// Decoder reads hwtrace records from an input stream. It holds no state between
// records apart from the current byte offset.
type Decoder struct {
	r *wire.Reader
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: wire.NewReader(r)}
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int64 {
	return d.r.Offset()
}

// Decode returns the next entry. It returns common.ErrEndOfStream when the input
// ends exactly on a record boundary, and a *common.Error for anything else.
func (d *Decoder) Decode() (entry.Entry, error) {
	start := d.r.Offset()
	eof, err := d.r.AtEOF()
	if err != nil {
		return nil, d.fail(start, err)
	}
	if eof {
		return nil, common.ErrEndOfStream
	}

	e, err := d.decodeRecord()
	if err != nil {
		return nil, d.fail(start, err)
	}
	return e, nil
}

// fail converts a low-level failure at the record starting at off into a library error.
func (d *Decoder) fail(off int64, err error) error {
	if e, ok := common.AsError(err); ok {
		if e.Offset == common.NoOffset {
			return e.WithOffset(off)
		}
		return e
	}
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return common.NewErrorWithOffset(common.ErrTruncated, off, "record cut short").Wrap(err)
	case errors.Is(err, wire.ErrVarint):
		return common.NewErrorWithOffset(common.ErrBadInt, off, "").Wrap(err)
	}
	return common.NewErrorWithOffset(common.ErrTruncated, off, "read failed").Wrap(err)
}

func (d *Decoder) decodeRecord() (entry.Entry, error) {
	tag, err := d.r.Varint()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagWrite:
		w := &entry.Write{}
		if w.ID, err = d.r.Varint(); err != nil {
			return nil, err
		}
		if w.Address, err = d.r.Varint(); err != nil {
			return nil, err
		}
		if w.Size, w.Content, err = d.sizedContent(); err != nil {
			return nil, err
		}
		if w.NonTemporal, err = d.bool(); err != nil {
			return nil, err
		}
		if w.Metadata, err = d.metadata(); err != nil {
			return nil, err
		}
		return w, nil

	case tagFence:
		f := &entry.Fence{}
		if f.ID, err = d.r.Varint(); err != nil {
			return nil, err
		}
		if f.Mnemonic, err = d.string(); err != nil {
			return nil, err
		}
		if f.Metadata, err = d.metadata(); err != nil {
			return nil, err
		}
		return f, nil

	case tagFlush:
		f := &entry.Flush{}
		if f.ID, err = d.r.Varint(); err != nil {
			return nil, err
		}
		if f.Mnemonic, err = d.string(); err != nil {
			return nil, err
		}
		if f.Address, err = d.r.Varint(); err != nil {
			return nil, err
		}
		if f.Metadata, err = d.metadata(); err != nil {
			return nil, err
		}
		return f, nil

	case tagRead:
		r := &entry.Read{}
		if r.ID, err = d.r.Varint(); err != nil {
			return nil, err
		}
		if r.Address, err = d.r.Varint(); err != nil {
			return nil, err
		}
		if r.Size, r.Content, err = d.sizedContent(); err != nil {
			return nil, err
		}
		return r, nil

	case tagHypercall:
		h := &entry.Hypercall{}
		if h.ID, err = d.r.Varint(); err != nil {
			return nil, err
		}
		if h.Action, err = d.string(); err != nil {
			return nil, err
		}
		if h.Value, err = d.string(); err != nil {
			return nil, err
		}
		return h, nil
	}
	return nil, common.NewErrorf(common.ErrBadVariant, "found variant %d, allowed 0..%d", tag, tagHypercall)
}

// sizedContent reads a size field followed by a content sequence of exactly that length.
func (d *Decoder) sizedContent() (uint64, []byte, error) {
	size, err := d.r.Varint()
	if err != nil {
		return 0, nil, err
	}
	content, err := d.bytes()
	if err != nil {
		return 0, nil, err
	}
	if uint64(len(content)) != size {
		return 0, nil, common.NewErrorf(common.ErrBadSize, "content length %d does not match size %d", len(content), size)
	}
	return size, content, nil
}

func (d *Decoder) length() (int, error) {
	n, err := d.r.Varint()
	if err != nil {
		return 0, err
	}
	if n > maxSeqLen {
		return 0, common.NewErrorf(common.ErrBadSize, "sequence length %d exceeds limit", n)
	}
	return int(n), nil
}

func (d *Decoder) bytes() ([]byte, error) {
	n, err := d.length()
	if err != nil {
		return nil, err
	}
	p := make([]byte, n)
	if err := d.r.ReadFull(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Decoder) string() (string, error) {
	p, err := d.bytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", common.NewError(common.ErrBadString, "string is not valid UTF-8")
	}
	return string(p), nil
}

func (d *Decoder) bool() (bool, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return false, io.ErrUnexpectedEOF
		}
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, common.NewErrorf(common.ErrBadBool, "found 0x%02x", b)
}

func (d *Decoder) metadata() (entry.Metadata, error) {
	var m entry.Metadata
	var err error
	if m.PC, err = d.r.Varint(); err != nil {
		return m, err
	}
	if m.InKernel, err = d.bool(); err != nil {
		return m, err
	}
	n, err := d.length()
	if err != nil {
		return m, err
	}
	if n > maxStackDepth {
		return m, common.NewErrorf(common.ErrBadSize, "kernel stack trace depth %d exceeds limit", n)
	}
	if n > 0 {
		m.KernelStackTrace = make([]uint64, n)
		for i := range m.KernelStackTrace {
			if m.KernelStackTrace[i], err = d.r.Varint(); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}
