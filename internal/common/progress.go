package common

import "math"

// Unbounded is the Progress sentinel for streams that run until the source ends.
const Unbounded int64 = -1

// Progress counts how many more entries a stream is expected to yield.
// Each open stream owns its own Progress; it is not safe for concurrent use.
type Progress struct {
	remaining int64
}

// NewProgress returns a counter expecting n more entries. n is capped at math.MaxInt64.
func NewProgress(n uint64) *Progress {
	if n > math.MaxInt64 {
		n = math.MaxInt64
	}
	return &Progress{remaining: int64(n)}
}

// NewUnboundedProgress returns a counter that never runs out.
func NewUnboundedProgress() *Progress {
	return &Progress{remaining: Unbounded}
}

// Bounded reports whether the stream has a declared length.
func (p *Progress) Bounded() bool {
	return p.remaining != Unbounded
}

// Remaining returns the number of entries still expected, or Unbounded.
func (p *Progress) Remaining() int64 {
	return p.remaining
}

// Exhausted reports whether a bounded stream has yielded everything it declared.
func (p *Progress) Exhausted() bool {
	return p.Bounded() && p.remaining <= 0
}

// Take consumes one expected entry. It is a no-op for unbounded streams.
func (p *Progress) Take() {
	if p.Bounded() && p.remaining > 0 {
		p.remaining--
	}
}

// Extend adds n expected entries to a bounded stream.
func (p *Progress) Extend(n uint64) {
	if !p.Bounded() {
		return
	}
	if n > uint64(math.MaxInt64-p.remaining) {
		p.remaining = math.MaxInt64
		return
	}
	p.remaining += int64(n)
}
