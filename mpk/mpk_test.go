package mpk

import (
	"bytes"
	"sync"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"pmtrace/entry"
	"pmtrace/internal/common"
)

// streamBuilder assembles an mpk stream in memory.
type streamBuilder struct {
	buf []byte
}

func newStream(amount uint64) *streamBuilder {
	return &streamBuilder{buf: AppendHeader(nil, amount)}
}

func (b *streamBuilder) record(r Record) *streamBuilder {
	b.buf, _ = r.AppendBinary(b.buf)
	return b
}

func (b *streamBuilder) write(id uint32, addr, size, value uint64) *streamBuilder {
	return b.record(Record{Variant: VariantWrite, RawID: id, SizeAndLocation: size << 1, Value: value, Address: addr})
}

func (b *streamBuilder) rep(id uint32, addr, count, sizeCode, value uint64) *streamBuilder {
	return b.record(Record{
		Variant:         VariantWrite,
		RawID:           id,
		SizeAndLocation: count << 1,
		Value:           value,
		Address:         addr,
		Flags:           FlagRep | sizeCode,
	})
}

func (b *streamBuilder) bytes() []byte {
	return b.buf
}

func decodeAll(t *testing.T, data []byte, cfg Config) ([]entry.Entry, error) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = common.NewNoOpLogger()
	}
	dec, err := NewDecoder(bytes.NewReader(data), cfg)
	if err != nil {
		return nil, err
	}
	var out []entry.Entry
	for {
		e, err := dec.Decode()
		if err == common.ErrEndOfStream {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	want := Record{
		Variant:         VariantFlush,
		Mnemonic:        MnemonicClwb,
		RawID:           17,
		NonTemporal:     1,
		SizeAndLocation: 8<<1 | 1,
		Value:           0x1122334455667788,
		Address:         0x7f00,
		Flags:           FlagRep | 3,
	}
	b, err := want.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != RecordSize {
		t.Fatalf("MarshalBinary is %d bytes, want %d", len(b), RecordSize)
	}
	var got Record
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if got.Size() != 8 || !got.Location() || !got.IsRep() {
		t.Errorf("Size=%d Location=%v IsRep=%v", got.Size(), got.Location(), got.IsRep())
	}
	if err := got.UnmarshalBinary(b[:10]); err == nil {
		t.Error("UnmarshalBinary accepted a short record")
	}
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader(AppendHeader(nil, 12345))
	if err != nil {
		t.Fatal(err)
	}
	if h.Amount != 12345 {
		t.Errorf("Amount = %d, want 12345", h.Amount)
	}
	if _, err := ParseHeader(make([]byte, 10)); err == nil {
		t.Error("ParseHeader accepted a short header")
	}
}

func TestDecodeVariants(t *testing.T) {
	data := newStream(6).
		write(0, 0x1000, 2, 0xBEEF).
		record(Record{Variant: VariantFence, Mnemonic: MnemonicSfence, RawID: 1}).
		record(Record{Variant: VariantFlush, Mnemonic: MnemonicClwb, RawID: 2, Address: 0x2000}).
		record(Record{Variant: VariantRead, RawID: 3, SizeAndLocation: 1 << 1, Value: 0x42, Address: 0x3000}).
		record(Record{Variant: VariantHypercall, RawID: 4, Value: 99}).
		record(Record{Variant: VariantFence, Mnemonic: 7, RawID: 5}).
		bytes()

	want := []entry.Entry{
		&entry.Write{ID: 0, Address: 0x1000, Size: 2, Content: []byte{0xEF, 0xBE}},
		&entry.Fence{ID: 1, Mnemonic: "sfence"},
		&entry.Flush{ID: 2, Mnemonic: "clwb", Address: 0x2000},
		&entry.Read{ID: 3, Address: 0x3000, Size: 1, Content: []byte{0x42}},
		&entry.Hypercall{ID: 4, Action: "checkpoint", Value: "99"},
		&entry.Fence{ID: 5, Mnemonic: UnimplementedMnemonic},
	}

	got, err := decodeAll(t, data, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestRepeatExpansion(t *testing.T) {
	tests := []struct {
		name     string
		sizeCode uint64
		elemSize uint64
	}{
		{"bytes", 0, 1},
		{"halfwords", 1, 2},
		{"words", 2, 4},
		{"doublewords", 3, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := newStream(3).rep(0, 0x100, 3, tt.sizeCode, 0xAB).bytes()
			got, err := decodeAll(t, data, Config{})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 3 {
				t.Fatalf("got %d entries, want 3", len(got))
			}
			for i, e := range got {
				w, ok := e.(*entry.Write)
				if !ok {
					t.Fatalf("entry %d is %T, want *entry.Write", i, e)
				}
				want := &entry.Write{
					ID:          uint64(i),
					Address:     0x100 + uint64(i)*tt.elemSize,
					Size:        tt.elemSize,
					Content:     entry.LittleEndianContent(0xAB, tt.elemSize),
					NonTemporal: true,
				}
				if diff := cmp.Diff(want, w, cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("element %d mismatch (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}

func TestIDsAreContiguousAcrossRuns(t *testing.T) {
	data := newStream(7).
		write(0, 0x10, 1, 1).
		rep(1, 0x20, 3, 0, 2).
		write(2, 0x30, 1, 3).
		rep(3, 0x40, 2, 0, 4).
		write(4, 0x50, 1, 5).
		bytes()

	got, err := decodeAll(t, data, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 8 {
		t.Fatalf("got %d entries, want 8", len(got))
	}
	for i, e := range got {
		if e.EntryID() != uint64(i) {
			t.Errorf("entry %d has id %d", i, e.EntryID())
		}
	}
}

func TestLocationBitIgnored(t *testing.T) {
	plain := newStream(1).write(0, 0x10, 4, 0x01020304).bytes()
	marked := newStream(1).record(Record{
		Variant:         VariantWrite,
		SizeAndLocation: 4<<1 | 1,
		Value:           0x01020304,
		Address:         0x10,
	}).bytes()

	a, err := decodeAll(t, plain, Config{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := decodeAll(t, marked, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("location bit changed the entry (-plain +marked):\n%s", diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		code   common.Code
		offset int64
	}{
		{
			name:   "unknown variant",
			data:   newStream(1).record(Record{Variant: 9}).bytes(),
			code:   common.ErrBadVariant,
			offset: HeaderSize,
		},
		{
			name:   "oversized write",
			data:   newStream(2).write(0, 0, 1, 0).write(1, 0, 16, 0).bytes(),
			code:   common.ErrBadSize,
			offset: HeaderSize + RecordSize,
		},
		{
			name:   "empty repeat run",
			data:   newStream(1).rep(0, 0, 0, 0, 0).bytes(),
			code:   common.ErrBadFlags,
			offset: HeaderSize,
		},
		{
			name:   "partial record",
			data:   newStream(2).write(0, 0, 1, 0).bytes()[:HeaderSize+RecordSize-5],
			code:   common.ErrTruncated,
			offset: HeaderSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeAll(t, tt.data, Config{})
			e, ok := common.AsError(err)
			if !ok {
				t.Fatalf("err = %v, want *common.Error", err)
			}
			if e.Code != tt.code {
				t.Errorf("Code = %v, want %v", e.Code, tt.code)
			}
			if e.Offset != tt.offset {
				t.Errorf("Offset = %d, want %d", e.Offset, tt.offset)
			}
		})
	}
}

func TestUnknownVariantMessage(t *testing.T) {
	_, err := decodeAll(t, newStream(1).record(Record{Variant: 9}).bytes(), Config{})
	e, _ := common.AsError(err)
	if e == nil || e.Message != "found variant 9, allowed 0..4" {
		t.Errorf("err = %v, want the variant index in the message", err)
	}
}

func TestShortHeader(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader(make([]byte, HeaderSize-1)), Config{Logger: common.NewNoOpLogger()})
	if common.CodeOf(err) != common.ErrBadHeader {
		t.Errorf("NewDecoder err = %v, want ErrBadHeader", err)
	}
}

func TestProgressModes(t *testing.T) {
	data := newStream(2).write(0, 0, 1, 0).rep(1, 0x10, 4, 0, 0).bytes()

	tests := []struct {
		name          string
		countRecords  bool
		wantRemaining int64
	}{
		{"entries", false, 2},
		{"wire records", true, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := NewDecoder(bytes.NewReader(data), Config{
				Logger:           common.NewNoOpLogger(),
				CountWireRecords: tt.countRecords,
			})
			if err != nil {
				t.Fatal(err)
			}
			for range 2 {
				if _, err := dec.Decode(); err != nil {
					t.Fatal(err)
				}
			}
			if got := dec.Progress().Remaining(); got != tt.wantRemaining {
				t.Errorf("Remaining() = %d, want %d", got, tt.wantRemaining)
			}
			if dec.Records() != 2 {
				t.Errorf("Records() = %d, want 2", dec.Records())
			}
		})
	}
}

func TestRepeatRunIsLogged(t *testing.T) {
	h := memory.New()
	logger := &log.Logger{Handler: h, Level: log.DebugLevel}

	data := newStream(2).rep(0, 0x10, 2, 1, 0).bytes()
	if _, err := decodeAll(t, data, Config{Logger: logger}); err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, e := range h.Entries {
		if e.Message == "mpk: repeat run" {
			found = true
			if e.Fields.Get("count") != uint64(2) || e.Fields.Get("elem_size") != uint64(2) {
				t.Errorf("repeat run fields = %v", e.Fields)
			}
		}
	}
	if !found {
		t.Error("no debug entry for the repeat run")
	}
}

func TestIndependentDecoders(t *testing.T) {
	a := newStream(4).rep(0, 0x100, 3, 0, 1).write(1, 0x200, 1, 2).bytes()
	b := newStream(2).write(0, 0x300, 1, 3).write(1, 0x400, 1, 4).bytes()

	var wg sync.WaitGroup
	results := make([][]entry.Entry, 2)
	errs := make([]error, 2)
	for i, data := range [][]byte{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = decodeAll(t, data, Config{})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("stream %d: %v", i, err)
		}
	}
	if got := results[0][3].EntryID(); got != 3 {
		t.Errorf("stream a last id = %d, want 3", got)
	}
	if got := results[1][1].EntryID(); got != 1 {
		t.Errorf("stream b last id = %d, want 1", got)
	}
}
