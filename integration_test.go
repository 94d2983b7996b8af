package pmtrace_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pmtrace/internal/common"
	"pmtrace/internal/lister"
)

// TestGoldenOutput prints each trace in testdata directly and after a round trip
// through the compressed hwtrace format, and compares both with the .golden file.
func TestGoldenOutput(t *testing.T) {
	const testDataRoot = "testdata"

	tests := []struct {
		name   string
		trace  string
		format lister.Format
		golden string
	}{
		{
			name:   "text checkpoint trace",
			trace:  "checkpoint.txt",
			format: lister.FormatText,
			golden: "checkpoint.golden",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tracePath := filepath.Join(testDataRoot, tc.trace)
			expectedBytes, err := os.ReadFile(filepath.Join(testDataRoot, tc.golden))
			if err != nil {
				t.Fatalf("Could not read golden file: %v", err)
			}
			expected := strings.ReplaceAll(string(expectedBytes), "\r\n", "\n")

			var direct bytes.Buffer
			if _, err := lister.Run(lister.Config{
				TraceFile:    tracePath,
				Format:       tc.format,
				Logger:       common.NewNoOpLogger(),
				OutputWriter: &direct,
			}); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if diff := cmp.Diff(expected, direct.String()); diff != "" {
				t.Errorf("direct output mismatch (-golden +actual):\n%s", diff)
			}

			converted := filepath.Join(t.TempDir(), "trace.hw")
			if _, err := lister.Convert(lister.Config{
				TraceFile:  tracePath,
				OutputFile: converted,
				Format:     tc.format,
				Logger:     common.NewNoOpLogger(),
			}); err != nil {
				t.Fatalf("Convert failed: %v", err)
			}

			var roundTrip bytes.Buffer
			if _, err := lister.Run(lister.Config{
				TraceFile:    converted,
				Format:       lister.FormatHW,
				Logger:       common.NewNoOpLogger(),
				OutputWriter: &roundTrip,
			}); err != nil {
				t.Fatalf("Run on converted trace failed: %v", err)
			}
			if diff := cmp.Diff(expected, roundTrip.String()); diff != "" {
				t.Errorf("converted output mismatch (-golden +actual):\n%s", diff)
			}
		})
	}
}
