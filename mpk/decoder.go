package mpk

import (
	"io"
	"strconv"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"pmtrace/entry"
	"pmtrace/internal/common"
	"pmtrace/internal/wire"
)

// maxInlineSize is the widest access whose content fits the record value field.
const maxInlineSize = 8

// Config controls a Decoder.
type Config struct {
	// Logger receives debug output; nil selects the apex default logger.
	Logger common.Logger

	// CountWireRecords treats the header amount as a count of wire records instead of
	// logical entries. Each repeat run then extends the expected count by its length
	// minus one.
	CountWireRecords bool
}

// repState tracks an in-progress repeat run.
type repState struct {
	remaining uint64 // entries still to emit
	emitted   uint64 // entries emitted so far
	base      uint64 // address of the first element
	elemSize  uint64 // 1, 2, 4 or 8
	value     uint64 // value stored by every element
	startID   uint64 // id of the first element
}

// Decoder decodes one mpk stream. All decode state belongs to the Decoder, so
// independent streams may be decoded concurrently; a single Decoder must not be
// used from more than one goroutine.
type Decoder struct {
	cfg      Config
	log      common.Logger
	r        *wire.Reader
	hdr      Header
	progress *common.Progress

	rep repState
	// totalOffset is the number of extra entries produced by earlier repeat runs.
	totalOffset uint64
	records     uint64
	buf         [RecordSize]byte
}

// NewDecoder reads the stream header from r and returns a decoder for the records
// that follow it.
func NewDecoder(r io.Reader, cfg Config) (*Decoder, error) {
	d := &Decoder{
		cfg: cfg,
		log: common.LoggerOrDefault(cfg.Logger),
		r:   wire.NewReader(r),
	}

	var b [HeaderSize]byte
	if err := d.r.ReadFull(b[:]); err != nil {
		if e, ok := common.AsError(err); ok {
			return nil, e
		}
		return nil, common.NewErrorWithOffset(common.ErrBadHeader, 0, "stream header cut short").Wrap(err)
	}
	hdr, err := ParseHeader(b[:])
	if err != nil {
		return nil, common.NewErrorWithOffset(common.ErrBadHeader, 0, "").Wrap(err)
	}
	d.hdr = hdr
	d.progress = common.NewProgress(hdr.Amount)

	d.log.WithFields(log.Fields{
		"amount":        hdr.Amount,
		"count_records": cfg.CountWireRecords,
	}).Debug("mpk: stream header")
	return d, nil
}

// Header returns the stream header.
func (d *Decoder) Header() Header {
	return d.hdr
}

// Progress returns the stream's expected entry counter, seeded from the header.
func (d *Decoder) Progress() *common.Progress {
	return d.progress
}

// Offset returns the number of bytes consumed so far, header included.
func (d *Decoder) Offset() int64 {
	return d.r.Offset()
}

// Records returns the number of wire records read so far.
func (d *Decoder) Records() uint64 {
	return d.records
}

// Decode returns the next entry. While a repeat run is in progress no input is
// read. It returns common.ErrEndOfStream when the input ends on a record boundary.
func (d *Decoder) Decode() (entry.Entry, error) {
	if d.rep.remaining > 0 {
		return d.nextRepWrite(), nil
	}

	start := d.r.Offset()
	eof, err := d.r.AtEOF()
	if err != nil {
		return nil, d.fail(start, err)
	}
	if eof {
		return nil, common.ErrEndOfStream
	}
	if err := d.r.ReadFull(d.buf[:]); err != nil {
		return nil, d.fail(start, err)
	}
	d.records++

	var rec Record
	if err := rec.UnmarshalBinary(d.buf[:]); err != nil {
		return nil, d.fail(start, err)
	}
	e, err := d.decodeRecord(&rec)
	if err != nil {
		return nil, d.fail(start, err)
	}
	return e, nil
}

func (d *Decoder) fail(off int64, err error) error {
	if e, ok := common.AsError(err); ok {
		if e.Offset == common.NoOffset {
			return e.WithOffset(off)
		}
		return e
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return common.NewErrorWithOffset(common.ErrTruncated, off, "record cut short").Wrap(err)
	}
	return common.NewErrorWithOffset(common.ErrTruncated, off, "read failed").Wrap(err)
}

func (d *Decoder) decodeRecord(rec *Record) (entry.Entry, error) {
	size := rec.Size()
	id := uint64(rec.RawID) + d.totalOffset

	if rec.IsRep() {
		return d.startRep(rec, id)
	}

	switch rec.Variant {
	case VariantWrite:
		if size > maxInlineSize {
			return nil, common.NewErrorf(common.ErrBadSize, "write size %d exceeds %d", size, maxInlineSize)
		}
		return &entry.Write{
			ID:      id,
			Address: rec.Address,
			Size:    size,
			Content: entry.LittleEndianContent(rec.Value, size),
		}, nil
	case VariantFence:
		return &entry.Fence{
			ID:       id,
			Mnemonic: fenceMnemonic(rec.Mnemonic),
		}, nil
	case VariantFlush:
		return &entry.Flush{
			ID:       id,
			Mnemonic: flushMnemonic(rec.Mnemonic),
			Address:  rec.Address,
		}, nil
	case VariantRead:
		if size > maxInlineSize {
			return nil, common.NewErrorf(common.ErrBadSize, "read size %d exceeds %d", size, maxInlineSize)
		}
		return &entry.Read{
			ID:      id,
			Address: rec.Address,
			Size:    size,
			Content: entry.LittleEndianContent(rec.Value, size),
		}, nil
	case VariantHypercall:
		return &entry.Hypercall{
			ID:     id,
			Action: "checkpoint",
			Value:  strconv.FormatUint(rec.Value, 10),
		}, nil
	}
	return nil, common.NewErrorf(common.ErrBadVariant, "found variant %d, allowed %d..%d",
		rec.Variant, VariantWrite, VariantHypercall)
}

// startRep begins the expansion of a repeat run and returns its first element.
func (d *Decoder) startRep(rec *Record, id uint64) (entry.Entry, error) {
	elemSize, err := rec.RepElemSize()
	if err != nil {
		return nil, common.NewError(common.ErrBadFlags, "").Wrap(err)
	}
	n := rec.Size()
	if n == 0 {
		return nil, common.NewError(common.ErrBadFlags, "repeat run with zero elements")
	}

	d.rep = repState{
		remaining: n,
		base:      rec.Address,
		elemSize:  elemSize,
		value:     rec.Value,
		startID:   id,
	}
	// later record ids must skip the entries this run emits
	d.totalOffset += n - 1
	if d.cfg.CountWireRecords {
		d.progress.Extend(n - 1)
	}

	d.log.WithFields(log.Fields{
		"id":        id,
		"address":   rec.Address,
		"count":     n,
		"elem_size": elemSize,
	}).Debug("mpk: repeat run")
	return d.nextRepWrite(), nil
}

func (d *Decoder) nextRepWrite() *entry.Write {
	i := d.rep.emitted
	d.rep.emitted++
	d.rep.remaining--
	return &entry.Write{
		ID:          d.rep.startID + i,
		Address:     d.rep.base + i*d.rep.elemSize,
		Size:        d.rep.elemSize,
		Content:     entry.LittleEndianContent(d.rep.value, d.rep.elemSize),
		NonTemporal: true,
	}
}

func fenceMnemonic(code uint32) string {
	if code == MnemonicSfence {
		return "sfence"
	}
	return UnimplementedMnemonic
}

func flushMnemonic(code uint32) string {
	if code == MnemonicClwb {
		return "clwb"
	}
	return UnimplementedMnemonic
}
