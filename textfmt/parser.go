// Package textfmt parses the line-oriented, comma-separated trace format.
//
// Every non-empty line is one record; the first column selects its kind:
//
//	write,<address>,<size>,<hex content>,<non temporal>
//	insn,<mnemonic>,<address or empty>,<unused>
//	read,<address>,<size>,<hex content>
//	hypercall,<action>,<value>
//
// The entry id of a record is its 0-based line index in the input.
package textfmt

import (
	"bufio"
	"encoding/hex"
	"io"
	"strconv"
	"strings"

	"pmtrace/entry"
	"pmtrace/internal/common"
)

// Column counts per record kind, the kind column included.
const (
	writeColumns     = 5
	insnColumns      = 4
	readColumns      = 4
	hypercallColumns = 3
)

// Parser reads records line by line. It holds no state across lines other than
// the line index.
type Parser struct {
	r    *bufio.Reader
	line int // number of lines consumed
	err  error
}

// NewParser returns a parser reading from r.
func NewParser(r io.Reader) *Parser {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Parser{r: br}
}

// Line returns the number of lines consumed so far.
func (p *Parser) Line() int {
	return p.line
}

// Decode returns the entry of the next line that produces one. Empty lines and
// flushes outside the monitored region yield nothing and are skipped. At the end of
// the input it returns common.ErrEndOfStream.
func (p *Parser) Decode() (entry.Entry, error) {
	if p.err != nil {
		return nil, p.err
	}
	for {
		text, err := p.readLine()
		if err != nil {
			p.err = err
			return nil, err
		}
		id := uint64(p.line - 1)
		if text == "" {
			continue
		}
		e, err := ParseLine(text, id)
		if err != nil {
			if ce, ok := common.AsError(err); ok {
				ce.Line = p.line
			}
			p.err = err
			return nil, err
		}
		if e != nil {
			return e, nil
		}
	}
}

func (p *Parser) readLine() (string, error) {
	text, err := p.r.ReadString('\n')
	if err == io.EOF && text == "" {
		return "", common.ErrEndOfStream
	}
	if err != nil && err != io.EOF {
		if ce, ok := common.AsError(err); ok {
			c := *ce
			c.Line = p.line + 1
			return "", &c
		}
		return "", common.NewErrorWithLine(common.ErrTruncated, p.line+1, "read failed").Wrap(err)
	}
	p.line++
	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")
	return text, nil
}

// ParseLine parses a single record with the given id. It returns a nil entry
// without error for lines that are intentionally not tracked.
func ParseLine(text string, id uint64) (entry.Entry, error) {
	cols := strings.Split(text, ",")
	switch cols[0] {
	case "write":
		return parseWrite(cols, id)
	case "insn":
		return parseInsn(cols, id)
	case "read":
		return parseRead(cols, id)
	case "hypercall":
		if err := checkArity(cols, hypercallColumns); err != nil {
			return nil, err
		}
		return &entry.Hypercall{ID: id, Action: cols[1], Value: cols[2]}, nil
	}
	return nil, common.NewErrorf(common.ErrUnsupportedOp, "unsupported operation %s", cols[0])
}

func parseWrite(cols []string, id uint64) (entry.Entry, error) {
	if err := checkArity(cols, writeColumns); err != nil {
		return nil, err
	}
	address, err := parseUint(cols[1], "address")
	if err != nil {
		return nil, err
	}
	size, content, err := parseContent(cols[2], cols[3])
	if err != nil {
		return nil, err
	}
	var nonTemporal bool
	switch {
	case strings.EqualFold(cols[4], "true"):
		nonTemporal = true
	case strings.EqualFold(cols[4], "false"):
		nonTemporal = false
	default:
		return nil, common.NewErrorf(common.ErrBadFlags, "invalid NT flag %s", cols[4])
	}
	return &entry.Write{
		ID:          id,
		Address:     address,
		Size:        size,
		Content:     content,
		NonTemporal: nonTemporal,
	}, nil
}

func parseInsn(cols []string, id uint64) (entry.Entry, error) {
	if err := checkArity(cols, insnColumns); err != nil {
		return nil, err
	}
	mnemonic := cols[1]
	var address uint64
	hasAddress := cols[2] != ""
	if hasAddress {
		var err error
		if address, err = parseUint(cols[2], "address"); err != nil {
			return nil, err
		}
	}

	switch mnemonic {
	case "mfence", "sfence", "wbinvd", "xchg":
		return &entry.Fence{ID: id, Mnemonic: mnemonic}, nil
	case "clwb", "clflush":
		// the tracer leaves the address empty outside the monitored region
		if !hasAddress {
			return nil, nil
		}
		return &entry.Flush{ID: id, Mnemonic: mnemonic, Address: address}, nil
	}
	return nil, common.NewErrorf(common.ErrUnsupportedOp, "unsupported instruction %s", mnemonic)
}

func parseRead(cols []string, id uint64) (entry.Entry, error) {
	if err := checkArity(cols, readColumns); err != nil {
		return nil, err
	}
	address, err := parseUint(cols[1], "address")
	if err != nil {
		return nil, err
	}
	size, content, err := parseContent(cols[2], cols[3])
	if err != nil {
		return nil, err
	}
	return &entry.Read{ID: id, Address: address, Size: size, Content: content}, nil
}

func checkArity(cols []string, want int) error {
	if len(cols) != want {
		return common.NewErrorf(common.ErrArity, "wrong number of %s arguments: got %d columns, want %d",
			cols[0], len(cols), want)
	}
	return nil
}

func parseUint(s, what string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, common.NewErrorf(common.ErrBadInt, "invalid %s", what).Wrap(err)
	}
	return v, nil
}

func parseContent(sizeCol, hexCol string) (uint64, []byte, error) {
	size, err := parseUint(sizeCol, "size")
	if err != nil {
		return 0, nil, err
	}
	content, err := hex.DecodeString(hexCol)
	if err != nil {
		return 0, nil, common.NewError(common.ErrBadHex, "invalid content").Wrap(err)
	}
	if uint64(len(content)) != size {
		return 0, nil, common.NewErrorf(common.ErrBadSize, "content length %d does not match size %d", len(content), size)
	}
	return size, content, nil
}
