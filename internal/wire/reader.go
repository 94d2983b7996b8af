// Package wire holds the byte-level primitives shared by the binary trace codecs.
package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Reader is a buffered reader that tracks how many bytes have been consumed.
type Reader struct {
	r   *bufio.Reader
	off int64
}

// NewReader wraps r. If r is already a *bufio.Reader it is used directly.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.off
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.off += int64(n)
	return n, err
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err == nil {
		r.off++
	}
	return b, err
}

// AtEOF reports whether the source has no more bytes. Errors other than io.EOF
// are returned so that framing failures are not mistaken for a clean end.
func (r *Reader) AtEOF() (bool, error) {
	_, err := r.r.Peek(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// ReadFull fills p. A short read is reported as io.ErrUnexpectedEOF, also when
// no byte at all could be read.
func (r *Reader) ReadFull(p []byte) error {
	n, err := io.ReadFull(r.r, p)
	r.off += int64(n)
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (r *Reader) Uint32() (uint32, error) {
	var b [4]byte
	if err := r.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *Reader) Uint64() (uint64, error) {
	var b [8]byte
	if err := r.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ErrVarint is returned for a variable-length integer with a reserved tag.
var ErrVarint = errors.New("invalid varint tag")

// Varint reads a variable-length unsigned integer (see AppendVarint).
func (r *Reader) Varint() (uint64, error) {
	tag, err := r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	switch {
	case tag < tagU16:
		return uint64(tag), nil
	case tag == tagU16:
		var b [2]byte
		if err := r.ReadFull(b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b[:])), nil
	case tag == tagU32:
		v, err := r.Uint32()
		return uint64(v), err
	case tag == tagU64:
		return r.Uint64()
	}
	return 0, errors.Wrapf(ErrVarint, "tag 0x%02x", tag)
}
