// Package printer renders decoded trace entries as one human readable line each.
package printer

import (
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"pmtrace/entry"
)

// FormatEntry formats e without color, e.g.
//
//	Write, ID: 3, address: 0x1000, size: 2, content: [aa, 0]
func FormatEntry(e entry.Entry) string {
	return formatEntry(e, e.Kind().String())
}

func formatEntry(e entry.Entry, name string) string {
	switch v := e.(type) {
	case *entry.Write:
		line := fmt.Sprintf("%s, ID: %d, address: %#x, size: %d, content: %s",
			name, v.ID, v.Address, v.Size, formatContent(v.Content))
		if v.NonTemporal {
			line += ", non_temporal"
		}
		return line
	case *entry.Read:
		return fmt.Sprintf("%s, ID: %d, address: %#x, size: %d, content: %s",
			name, v.ID, v.Address, v.Size, formatContent(v.Content))
	case *entry.Fence:
		return fmt.Sprintf("%s, ID: %d, mnemonic: %s", name, v.ID, v.Mnemonic)
	case *entry.Flush:
		return fmt.Sprintf("%s, ID: %d, mnemonic: %s, address: %#x", name, v.ID, v.Mnemonic, v.Address)
	case *entry.Hypercall:
		return fmt.Sprintf("%s, ID: %d, action: %s, value: %s", name, v.ID, v.Action, v.Value)
	}
	return fmt.Sprintf("%s, ID: %d", name, e.EntryID())
}

// formatContent renders bytes as a bracketed list of unpadded hex values.
func formatContent(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%x", b)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

var kindColors = map[entry.Kind]color.Attribute{
	entry.KindWrite:     color.FgYellow,
	entry.KindRead:      color.FgCyan,
	entry.KindFence:     color.FgMagenta,
	entry.KindFlush:     color.FgGreen,
	entry.KindHypercall: color.FgBlue,
}

// Printer writes one line per entry.
type Printer struct {
	out   io.Writer
	color bool
	lines uint64
}

// NewPrinter returns a printer writing to w. With useColor the entry kind is
// highlighted with ANSI colors regardless of the terminal.
func NewPrinter(w io.Writer, useColor bool) *Printer {
	return &Printer{out: w, color: useColor}
}

// Lines returns the number of lines written.
func (p *Printer) Lines() uint64 {
	return p.lines
}

// PrintEntry writes the line for e.
func (p *Printer) PrintEntry(e entry.Entry) error {
	name := e.Kind().String()
	if p.color {
		c := color.New(kindColors[e.Kind()])
		c.EnableColor()
		name = c.Sprint(name)
	}
	if _, err := fmt.Fprintln(p.out, formatEntry(e, name)); err != nil {
		return errors.Wrap(err, "could not print entry")
	}
	p.lines++
	return nil
}

// PrintAll prints every entry of seq and stops at the first decode or write error.
func (p *Printer) PrintAll(seq iter.Seq2[entry.Entry, error]) error {
	for e, err := range seq {
		if err != nil {
			return err
		}
		if err := p.PrintEntry(e); err != nil {
			return err
		}
	}
	return nil
}
