package ports

import (
	"context"
	"io"

	"github.com/kirillkom/fiscal-ingest/internal/core/domain"
)

// ParserDescriptor declares what a parser plugin extracts and which header
// vocabulary identifies its inputs.
type ParserDescriptor struct {
	ID          string            `json:"id"`
	DocType     domain.DocType    `json:"doc_type"`
	Kinds       []domain.FileKind `json:"kinds"`
	Vocabulary  []string          `json:"vocabulary"`
	Description string            `json:"description,omitempty"`
}

func (d ParserDescriptor) Supports(kind domain.FileKind) bool {
	for _, k := range d.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type PeekResult struct {
	Headers    []string
	SampleRows []map[string]any
}

// Row is one logical record produced by a parser. Errors holds per-row parse
// problems; they never abort the parse.
type Row struct {
	Index  int
	Fields map[string]any
	Errors []string
}

// Parser converts raw bytes into rows. Peek must not parse the whole input.
type Parser interface {
	Descriptor() ParserDescriptor
	Peek(ctx context.Context, r io.Reader, maxRows int) (PeekResult, error)
	Parse(ctx context.Context, r io.Reader, emit func(Row) error) error
}
