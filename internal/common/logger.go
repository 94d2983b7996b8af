package common

import (
	"io"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/text"
)

// Logger is the logging contract used by decoders and tools.
type Logger = log.Interface

// NewStdLogger creates a text logger writing to w that drops messages below minLevel.
func NewStdLogger(w io.Writer, minLevel log.Level) *log.Logger {
	return &log.Logger{
		Handler: text.New(w),
		Level:   minLevel,
	}
}

// NewNoOpLogger creates a logger that doesn't log anything.
func NewNoOpLogger() *log.Logger {
	return &log.Logger{
		Handler: discard.New(),
		Level:   log.FatalLevel,
	}
}

// LoggerOrDefault returns l, or the process-wide apex logger when l is nil.
func LoggerOrDefault(l Logger) Logger {
	if l == nil {
		return log.Log
	}
	return l
}
