package domain

import "sort"

type ErrorCategory string

const (
	CategoryMissingField ErrorCategory = "missing_field"
	CategoryTypeMismatch ErrorCategory = "type_mismatch"
	CategoryValidation   ErrorCategory = "validation"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ImportError is a structured, user-facing defect found in one row.
type ImportError struct {
	RowNumber      int           `json:"row_number"`
	FieldName      string        `json:"field_name,omitempty"`
	CanonicalField string        `json:"canonical_field,omitempty"`
	Category       ErrorCategory `json:"category"`
	Severity       Severity      `json:"severity"`
	Message        string        `json:"message"`
	Suggestion     string        `json:"suggestion,omitempty"`
}

func (e ImportError) Blocking() bool {
	return e.Severity != SeverityWarning
}

// HasBlocking reports whether any entry is error-severity.
func HasBlocking(errs []ImportError) bool {
	for _, e := range errs {
		if e.Blocking() {
			return true
		}
	}
	return false
}

// WithRow stamps a row number onto errors produced without row context.
func WithRow(errs []ImportError, row int) []ImportError {
	out := make([]ImportError, len(errs))
	for i, e := range errs {
		if e.RowNumber == 0 {
			e.RowNumber = row
		}
		out[i] = e
	}
	return out
}

type ImportErrorCollection struct {
	entries []ImportError
}

func (c *ImportErrorCollection) Add(errs ...ImportError) {
	c.entries = append(c.entries, errs...)
}

func (c *ImportErrorCollection) All() []ImportError {
	return append([]ImportError(nil), c.entries...)
}

func (c *ImportErrorCollection) Len() int {
	return len(c.entries)
}

func (c *ImportErrorCollection) HasErrors() bool {
	return HasBlocking(c.entries)
}

func (c *ImportErrorCollection) Errors() []ImportError {
	return c.filter(SeverityError)
}

func (c *ImportErrorCollection) Warnings() []ImportError {
	return c.filter(SeverityWarning)
}

// ByRow groups entries by row number, preserving insertion order within a row.
func (c *ImportErrorCollection) ByRow() map[int][]ImportError {
	out := make(map[int][]ImportError)
	for _, e := range c.entries {
		out[e.RowNumber] = append(out[e.RowNumber], e)
	}
	return out
}

// Rows returns the distinct row numbers with at least one entry, ascending.
func (c *ImportErrorCollection) Rows() []int {
	seen := make(map[int]struct{})
	rows := make([]int, 0)
	for _, e := range c.entries {
		if _, ok := seen[e.RowNumber]; ok {
			continue
		}
		seen[e.RowNumber] = struct{}{}
		rows = append(rows, e.RowNumber)
	}
	sort.Ints(rows)
	return rows
}

func (c *ImportErrorCollection) filter(severity Severity) []ImportError {
	out := make([]ImportError, 0)
	for _, e := range c.entries {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}
