package lister

import (
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// commandFlags holds the flag values shared by the tools.
type commandFlags struct {
	traceFile    string
	outputFile   string
	format       string
	raw          bool
	compressed   bool
	color        bool
	verbose      bool
	countRecords bool
}

func (f *commandFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.traceFile, "trace-file", "", "Path to the trace file")
	flags.StringVar(&f.outputFile, "output-file", "", "Path to the output file (default stdout)")
	flags.StringVar(&f.format, "format", string(FormatHW), "Trace format: text, hw or mpk")
	flags.BoolVar(&f.raw, "raw", false, "Input is not snappy framed")
	flags.BoolVar(&f.compressed, "compressed", false, "Input is snappy framed (default: detect)")
	flags.BoolVar(&f.verbose, "verbose", false, "Enable debug logging")
	flags.BoolVar(&f.countRecords, "count-records", false, "mpk header counts wire records instead of entries")
	cmd.MarkFlagRequired("trace-file")
}

func (f *commandFlags) config() (Config, error) {
	cfg := Config{
		TraceFile:        f.traceFile,
		OutputFile:       f.outputFile,
		Format:           Format(f.format),
		Color:            f.color,
		CountWireRecords: f.countRecords,
	}
	switch cfg.Format {
	case FormatText, FormatHW, FormatMPK:
	default:
		return cfg, errors.Errorf("unknown trace format %q", f.format)
	}
	switch {
	case f.raw && f.compressed:
		return cfg, errors.New("--raw and --compressed are mutually exclusive")
	case f.raw:
		cfg.Compressed = CompressionOff
	case f.compressed:
		cfg.Compressed = CompressionOn
	}

	level := log.InfoLevel
	if f.verbose {
		level = log.DebugLevel
	}
	cfg.Logger = &log.Logger{Handler: cli.New(os.Stderr), Level: level}
	return cfg, nil
}

// NewPrintCommand returns the command printing a trace as one line per entry.
func NewPrintCommand() *cobra.Command {
	var f commandFlags
	cmd := &cobra.Command{
		Use:          "print_trace",
		Short:        "Print the entries of a persistent memory trace",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}
			cfg.OutputWriter = cmd.OutOrStdout()
			_, err = Run(cfg)
			return err
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&f.color, "color", false, "Highlight entry kinds with ANSI colors")
	return cmd
}

// NewConvertCommand returns the command re-encoding a trace as a compressed hwtrace file.
func NewConvertCommand() *cobra.Command {
	var f commandFlags
	cmd := &cobra.Command{
		Use:          "convert_trace",
		Short:        "Convert a persistent memory trace into a compressed hwtrace file",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}
			cfg.OutputWriter = cmd.OutOrStdout()
			_, err = Convert(cfg)
			return err
		},
	}
	f.bind(cmd)
	return cmd
}
