package common

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Code is the library error code.
type Code uint32

const (
	OK               Code = 0
	ErrTruncated     Code = 1
	ErrBadVariant    Code = 2
	ErrBadFlags      Code = 3
	ErrBadSize       Code = 4
	ErrBadBool       Code = 5
	ErrBadString     Code = 6
	ErrArity         Code = 7
	ErrBadHex        Code = 8
	ErrBadInt        Code = 9
	ErrUnsupportedOp Code = 10
	ErrBadFrame      Code = 11
	ErrBadHeader     Code = 12
	ErrEncode        Code = 13
)

// NoOffset marks an error without a binary record offset.
const NoOffset int64 = -1

// ErrEndOfStream is returned by a decoder when the source ended cleanly on a record
// boundary. It is a signal for the stream driver, not a failure.
var ErrEndOfStream = errors.New("end of stream")

// Error is the library error object.
// Offset is the byte offset of the failing binary record, Line the 1-based line
// of the failing text record; unused positions are NoOffset and 0.
type Error struct {
	Code    Code
	Offset  int64
	Line    int
	Message string
	Err     error
}

func NewError(code Code, msg string) *Error {
	return &Error{
		Code:    code,
		Offset:  NoOffset,
		Message: msg,
	}
}

func NewErrorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

func NewErrorWithOffset(code Code, offset int64, msg string) *Error {
	return &Error{
		Code:    code,
		Offset:  offset,
		Message: msg,
	}
}

func NewErrorWithLine(code Code, line int, msg string) *Error {
	return &Error{
		Code:    code,
		Offset:  NoOffset,
		Line:    line,
		Message: msg,
	}
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

// WithOffset returns a copy of e positioned at offset.
func (e *Error) WithOffset(offset int64) *Error {
	c := *e
	c.Offset = offset
	return &c
}

// Malformed reports whether the error describes bad or truncated input data
// rather than a failure of the output sink.
func (e *Error) Malformed() bool {
	return e.Code != OK && e.Code != ErrEncode
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("ERROR:0x%04x ", uint32(e.Code)))

	if desc, ok := errorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.name, desc.msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.Offset != NoOffset {
		sb.WriteString(fmt.Sprintf("Offset=%d; ", e.Offset))
	}
	if e.Line > 0 {
		sb.WriteString(fmt.Sprintf("Line=%d; ", e.Line))
	}

	sb.WriteString(e.Message)
	if e.Err != nil {
		if e.Message != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a library error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsMalformed reports whether err carries a malformed record error.
func IsMalformed(err error) bool {
	e, ok := AsError(err)
	return ok && e.Malformed()
}

// CodeOf returns the code of the library error in err's chain, or OK.
func CodeOf(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return OK
}

type errDesc struct {
	name string
	msg  string
}

var errorCodeDesc = map[Code]errDesc{
	OK:               {"PMT_OK", "No Error."},
	ErrTruncated:     {"PMT_ERR_TRUNCATED", "Trace ended inside a record or before the declared entry count."},
	ErrBadVariant:    {"PMT_ERR_BAD_VARIANT", "Unknown record variant."},
	ErrBadFlags:      {"PMT_ERR_BAD_FLAGS", "Invalid record flag combination."},
	ErrBadSize:       {"PMT_ERR_BAD_SIZE", "Invalid access size or content length."},
	ErrBadBool:       {"PMT_ERR_BAD_BOOL", "Invalid boolean value."},
	ErrBadString:     {"PMT_ERR_BAD_STRING", "Invalid string encoding."},
	ErrArity:         {"PMT_ERR_ARITY", "Wrong number of record columns."},
	ErrBadHex:        {"PMT_ERR_BAD_HEX", "Invalid hex content."},
	ErrBadInt:        {"PMT_ERR_BAD_INT", "Invalid unsigned integer."},
	ErrUnsupportedOp: {"PMT_ERR_UNSUPPORTED_OP", "Unsupported operation or instruction."},
	ErrBadFrame:      {"PMT_ERR_BAD_FRAME", "Corrupt compressed frame."},
	ErrBadHeader:     {"PMT_ERR_BAD_HEADER", "Invalid or missing stream header."},
	ErrEncode:        {"PMT_ERR_ENCODE", "Failed to write trace output."},
}
