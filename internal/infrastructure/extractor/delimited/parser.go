// Package delimited parses CSV-like text exports (comma, semicolon, tab or
// pipe separated) in UTF-8 or Windows-1252.
package delimited

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/kirillkom/fiscal-ingest/internal/core/canonical"
	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
	"github.com/kirillkom/fiscal-ingest/internal/infrastructure/extractor/tabular"
)

const sniffSize = 8 << 10

var candidates = []rune{',', ';', '\t', '|'}

type Parser struct {
	desc ports.ParserDescriptor
}

// New returns the delimited parser that reads rows as docType.
func New(docType domain.DocType) *Parser {
	return &Parser{desc: tabular.Descriptor("csv", domain.KindCSV, docType, canonical.Vocabulary(docType),
		fmt.Sprintf("delimited text export of %s rows", docType))}
}

func (p *Parser) Descriptor() ports.ParserDescriptor {
	return p.desc
}

func (p *Parser) Peek(ctx context.Context, r io.Reader, maxRows int) (ports.PeekResult, error) {
	collector := &tabular.Collector{Limit: maxRows}
	err := p.parse(ctx, r, func(headers []string) {
		collector.Result.Headers = headers
	}, collector.Emit)
	if err != nil && !errors.Is(err, tabular.ErrPeekDone) {
		return ports.PeekResult{}, err
	}
	return collector.Result, nil
}

func (p *Parser) Parse(ctx context.Context, r io.Reader, emit func(ports.Row) error) error {
	return p.parse(ctx, r, nil, emit)
}

func (p *Parser) parse(ctx context.Context, r io.Reader, onHeaders func([]string), emit func(ports.Row) error) error {
	reader, err := newReader(r)
	if err != nil {
		return err
	}

	var headers []string
	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read delimited record: %w", err)
		}
		if tabular.Blank(record) {
			continue
		}
		if headers == nil {
			headers = tabular.Headers(record)
			if onHeaders != nil {
				onHeaders(headers)
			}
			continue
		}
		if err := emit(tabular.Row(index, headers, record)); err != nil {
			return err
		}
		index++
	}
}

// newReader sniffs encoding and separator from the head of the input.
func newReader(r io.Reader) (*csv.Reader, error) {
	buffered := bufio.NewReaderSize(r, sniffSize)
	head, err := buffered.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read delimited head: %w", err)
	}

	var src io.Reader = buffered
	if !validUTF8Prefix(head) {
		src = transform.NewReader(buffered, charmap.Windows1252.NewDecoder())
	}

	reader := csv.NewReader(src)
	reader.Comma = sniffDelimiter(head)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	return reader, nil
}

// validUTF8Prefix tolerates a rune cut by the sniff window.
func validUTF8Prefix(b []byte) bool {
	for cut := 0; cut < utf8.UTFMax && cut <= len(b); cut++ {
		if utf8.Valid(b[:len(b)-cut]) {
			return true
		}
	}
	return false
}

// sniffDelimiter picks the candidate that appears most often, outside
// quotes, on the first non-empty line.
func sniffDelimiter(head []byte) rune {
	head = bytes.TrimLeft(head, "\r\n")
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	counts := make(map[rune]int, len(candidates))
	quoted := false
	for _, c := range string(head) {
		if c == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[c]++
		}
	}
	best, bestCount := ',', 0
	for _, c := range candidates {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}
