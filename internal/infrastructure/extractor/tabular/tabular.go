// Package tabular holds the header and record handling shared by the
// delimited and spreadsheet parsers.
package tabular

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-ingest/internal/core/ports"
)

// Descriptor builds the descriptor of a tabular parser for one doc type.
func Descriptor(prefix string, kind domain.FileKind, docType domain.DocType, vocabulary []string, description string) ports.ParserDescriptor {
	return ports.ParserDescriptor{
		ID:          prefix + "_" + string(docType),
		DocType:     docType,
		Kinds:       []domain.FileKind{kind},
		Vocabulary:  vocabulary,
		Description: description,
	}
}

// Headers trims header cells, names empty ones by position and suffixes
// duplicates so every column keeps a distinct key.
func Headers(record []string) []string {
	out := make([]string, len(record))
	seen := make(map[string]int, len(record))
	for i, cell := range record {
		name := strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		out[i] = name
	}
	return out
}

// Blank reports whether every cell of record is empty.
func Blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Row pairs record cells with headers. Cells beyond the header width are
// reported, never dropped silently.
func Row(index int, headers, record []string) ports.Row {
	fields := make(map[string]any, len(headers))
	for i, header := range headers {
		value := ""
		if i < len(record) {
			value = strings.TrimSpace(record[i])
		}
		fields[header] = value
	}
	row := ports.Row{Index: index, Fields: fields}
	if extra := record[min(len(headers), len(record)):]; !Blank(extra) {
		row.Errors = append(row.Errors, fmt.Sprintf("row has %d cells, header has %d", len(record), len(headers)))
	}
	return row
}

// Collector accumulates a peek result from emitted rows.
type Collector struct {
	Limit  int
	Result ports.PeekResult
}

// ErrPeekDone stops a parse once a peek has enough rows.
var ErrPeekDone = errors.New("peek complete")

func (c *Collector) Emit(row ports.Row) error {
	if len(c.Result.SampleRows) >= c.Limit {
		return ErrPeekDone
	}
	c.Result.SampleRows = append(c.Result.SampleRows, row.Fields)
	if len(c.Result.SampleRows) >= c.Limit {
		return ErrPeekDone
	}
	return nil
}
