// Package stream turns the trace decoders into lazy entry sequences.
//
// A Sequence decodes exactly one entry per pull and never reads ahead further than
// the current wire record. It ends when the source ends cleanly or, for streams
// with a declared length, when the declared number of entries has been yielded.
package stream

import (
	"io"
	"iter"

	"github.com/apex/log"

	"pmtrace/entry"
	"pmtrace/hwtrace"
	"pmtrace/internal/common"
	"pmtrace/mpk"
	"pmtrace/textfmt"
)

// Decoder decodes one entry per call and returns common.ErrEndOfStream at a clean end.
type Decoder interface {
	Decode() (entry.Entry, error)
}

// Sequence is a single-pass, non-restartable sequence of decoded entries.
// It is not safe for concurrent use.
type Sequence struct {
	dec      Decoder
	progress *common.Progress
	log      common.Logger

	count uint64
	done  bool
	err   error
}

// New returns a sequence pulling from dec. A nil progress makes the sequence
// unbounded: it runs until dec reports the end of the stream.
func New(dec Decoder, progress *common.Progress, logger common.Logger) *Sequence {
	if progress == nil {
		progress = common.NewUnboundedProgress()
	}
	return &Sequence{
		dec:      dec,
		progress: progress,
		log:      common.LoggerOrDefault(logger),
	}
}

// OpenHardware returns the sequence of a hwtrace stream. r must deliver the
// uncompressed records; wrap it with frame.NewReader for files on disk.
func OpenHardware(r io.Reader) *Sequence {
	return New(hwtrace.NewDecoder(r), nil, nil)
}

// OpenMPK reads the mpk stream header from r and returns the sequence of its
// entries, bounded by the header's declared amount.
func OpenMPK(r io.Reader, cfg mpk.Config) (*Sequence, error) {
	dec, err := mpk.NewDecoder(r, cfg)
	if err != nil {
		return nil, err
	}
	return New(dec, dec.Progress(), cfg.Logger), nil
}

// OpenText returns the sequence of a text trace.
func OpenText(r io.Reader) *Sequence {
	return New(textfmt.NewParser(r), nil, nil)
}

// WithLogger replaces the logger receiving the terminating error and returns s.
func (s *Sequence) WithLogger(l common.Logger) *Sequence {
	s.log = common.LoggerOrDefault(l)
	return s
}

// Next returns the next entry. At the normal end of the stream it returns io.EOF.
// The first other error ends the sequence: it is returned by this and every
// later call.
func (s *Sequence) Next() (entry.Entry, error) {
	if s.done {
		return nil, s.err
	}
	if s.progress.Exhausted() {
		return nil, s.finish(io.EOF)
	}

	bounded := s.progress.Bounded()
	s.progress.Take()
	e, err := s.dec.Decode()
	if err == common.ErrEndOfStream {
		if bounded {
			return nil, s.finish(common.NewErrorf(common.ErrTruncated,
				"stream ended after %d entries, %d more declared", s.count, s.progress.Remaining()+1))
		}
		return nil, s.finish(io.EOF)
	}
	if err != nil {
		return nil, s.finish(err)
	}
	s.count++
	return e, nil
}

func (s *Sequence) finish(err error) error {
	s.done = true
	s.err = err
	if err != io.EOF {
		s.log.WithFields(log.Fields{"entries": s.count}).WithError(err).Warn("stream: decode failed")
	}
	return err
}

// Err returns the error that ended the sequence, or nil if it ended normally or
// has not ended yet.
func (s *Sequence) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// Count returns the number of entries yielded so far.
func (s *Sequence) Count() uint64 {
	return s.count
}

// All returns an iterator over the remaining items. A decode error is yielded
// once with a nil entry, after which iteration stops.
func (s *Sequence) All() iter.Seq2[entry.Entry, error] {
	return func(yield func(entry.Entry, error) bool) {
		for {
			e, err := s.Next()
			if err == io.EOF {
				return
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the sequence into a slice, stopping at the first error.
func (s *Sequence) Collect() ([]entry.Entry, error) {
	var out []entry.Entry
	for e, err := range s.All() {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}
