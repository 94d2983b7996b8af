// Package frame wraps trace byte streams in the snappy framing format.
// Decoders read through NewReader without knowing whether the bytes on disk were
// compressed; corrupt frames and checksum mismatches surface as decode errors.
package frame

import (
	"bufio"
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"pmtrace/internal/common"
)

// streamIdentifier is the chunk every snappy framed stream starts with.
var streamIdentifier = []byte("\xff\x06\x00\x00sNaPpY")

// Reader decompresses a framed stream.
type Reader struct {
	dec *snappy.Reader
}

// NewReader returns a reader decompressing the framed stream r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: snappy.NewReader(r)}
}

// Read implements io.Reader. io.EOF is passed through at the end of the last
// frame, every other failure is a *common.Error with code ErrBadFrame.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.dec.Read(p)
	if err == nil || err == io.EOF {
		return n, err
	}
	return n, frameError(err)
}

func frameError(err error) *common.Error {
	switch {
	case errors.Is(err, snappy.ErrCorrupt):
		return common.NewError(common.ErrBadFrame, "corrupt frame or checksum mismatch").Wrap(err)
	case errors.Is(err, snappy.ErrUnsupported):
		return common.NewError(common.ErrBadFrame, "unsupported chunk").Wrap(err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return common.NewError(common.ErrBadFrame, "frame cut short").Wrap(err)
	}
	return common.NewError(common.ErrBadFrame, "").Wrap(err)
}

// Writer compresses into a framed stream. Close must be called to flush the final frame.
type Writer struct {
	enc *snappy.Writer
}

// NewWriter returns a buffered writer emitting framed, checksummed chunks to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: snappy.NewBufferedWriter(w)}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.enc.Write(p)
	if err != nil {
		return n, common.NewError(common.ErrEncode, "compressed write failed").Wrap(err)
	}
	return n, nil
}

// Flush writes any buffered data as a complete frame.
func (w *Writer) Flush() error {
	if err := w.enc.Flush(); err != nil {
		return common.NewError(common.ErrEncode, "compressed flush failed").Wrap(err)
	}
	return nil
}

// Close flushes the final frame. It does not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.enc.Close(); err != nil {
		return common.NewError(common.ErrEncode, "compressed close failed").Wrap(err)
	}
	return nil
}

// IsCompressed reports whether br starts with the snappy stream identifier.
// It only peeks, so br can be handed to a decoder afterwards either way.
func IsCompressed(br *bufio.Reader) (bool, error) {
	b, err := br.Peek(len(streamIdentifier))
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Equal(b, streamIdentifier), nil
}
