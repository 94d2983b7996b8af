// Package lister implements the trace printing and conversion tools on top of the
// decoding engine. It owns all knowledge of file paths.
package lister

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"

	"pmtrace/frame"
	"pmtrace/hwtrace"
	"pmtrace/internal/common"
	"pmtrace/mpk"
	"pmtrace/printer"
	"pmtrace/stream"
)

// Format names a trace source format.
type Format string

const (
	FormatText Format = "text"
	FormatHW   Format = "hw"
	FormatMPK  Format = "mpk"
)

// Compression selects how the input framing is handled.
type Compression int

const (
	CompressionAuto Compression = iota // detect the snappy stream identifier
	CompressionOn
	CompressionOff
)

// Config mirrors the command line arguments of the tools.
type Config struct {
	TraceFile  string
	OutputFile string // empty selects OutputWriter
	Format     Format
	Compressed Compression
	Color      bool

	// CountWireRecords is passed to the mpk decoder.
	CountWireRecords bool

	Logger       common.Logger
	OutputWriter io.Writer // used when OutputFile is empty; nil means stdout
}

// Stats summarizes a run.
type Stats struct {
	Entries uint64
}

// Run decodes cfg.TraceFile and prints one line per entry.
func Run(cfg Config) (Stats, error) {
	var stats Stats
	logger := common.LoggerOrDefault(cfg.Logger)

	in, err := os.Open(cfg.TraceFile)
	if err != nil {
		return stats, errors.Wrap(err, "could not open trace file")
	}
	defer in.Close()

	out, closeOut, err := openOutput(cfg)
	if err != nil {
		return stats, err
	}
	bw := bufio.NewWriter(out)

	seq, err := openSequence(in, cfg)
	if err != nil {
		closeOut()
		return stats, err
	}

	logger.Infof("lister: decoding %s as %s", cfg.TraceFile, cfg.Format)
	p := printer.NewPrinter(bw, cfg.Color)
	err = p.PrintAll(seq.All())
	stats.Entries = seq.Count()
	if ferr := bw.Flush(); err == nil && ferr != nil {
		err = errors.Wrap(ferr, "could not write output")
	}
	if cerr := closeOut(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "could not close output")
	}
	if err != nil {
		return stats, errors.Wrapf(err, "printing %s", cfg.TraceFile)
	}
	logger.Infof("lister: printed %d entries", stats.Entries)
	return stats, nil
}

// Convert decodes cfg.TraceFile and writes it as a compressed hwtrace file to
// cfg.OutputFile (or cfg.OutputWriter).
func Convert(cfg Config) (Stats, error) {
	var stats Stats
	logger := common.LoggerOrDefault(cfg.Logger)

	in, err := os.Open(cfg.TraceFile)
	if err != nil {
		return stats, errors.Wrap(err, "could not open trace file")
	}
	defer in.Close()

	seq, err := openSequence(in, cfg)
	if err != nil {
		return stats, err
	}

	out, closeOut, err := openOutput(cfg)
	if err != nil {
		return stats, err
	}
	fw := frame.NewWriter(out)
	enc := hwtrace.NewEncoder(fw)

	for e, derr := range seq.All() {
		if derr != nil {
			err = derr
			break
		}
		if _, err = enc.Encode(e); err != nil {
			break
		}
		stats.Entries++
	}
	if cerr := fw.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if cerr := closeOut(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "could not close output")
	}
	if err != nil {
		return stats, errors.Wrapf(err, "converting %s", cfg.TraceFile)
	}
	logger.Infof("lister: converted %d entries (%d bytes uncompressed)", stats.Entries, enc.Offset())
	return stats, nil
}

func openOutput(cfg Config) (io.Writer, func() error, error) {
	if cfg.OutputFile == "" {
		w := cfg.OutputWriter
		if w == nil {
			w = os.Stdout
		}
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(cfg.OutputFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not open output file")
	}
	return f, f.Close, nil
}

// openSequence applies the input framing and selects the decoder for cfg.Format.
func openSequence(r io.Reader, cfg Config) (*stream.Sequence, error) {
	br := bufio.NewReader(r)

	compressed := cfg.Compressed == CompressionOn
	if cfg.Compressed == CompressionAuto {
		var err error
		if compressed, err = frame.IsCompressed(br); err != nil {
			return nil, errors.Wrap(err, "could not read trace file")
		}
	}
	var src io.Reader = br
	if compressed {
		src = frame.NewReader(br)
	}

	switch cfg.Format {
	case FormatText:
		return stream.OpenText(src).WithLogger(cfg.Logger), nil
	case FormatHW, "":
		return stream.OpenHardware(src).WithLogger(cfg.Logger), nil
	case FormatMPK:
		seq, err := stream.OpenMPK(src, mpk.Config{
			Logger:           cfg.Logger,
			CountWireRecords: cfg.CountWireRecords,
		})
		if err != nil {
			return nil, errors.Wrap(err, "could not read mpk header")
		}
		return seq, nil
	}
	return nil, errors.Errorf("unknown trace format %q", cfg.Format)
}
