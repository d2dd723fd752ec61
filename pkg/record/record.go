// Package record converts between rows of the contracts CSV export and the
// work items flowing through the analysis pipeline.
package record

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Default column names of the contracts_bytecode export.
const (
	DefaultKeyColumn     = "address"
	DefaultPayloadColumn = "bytecode"
)

// AnalysisColumns are appended to the input columns to form the output header.
// Their order matches analyzer.Result.Columns.
var AnalysisColumns = []string{
	"callstack",
	"reentrancy",
	"time_dependency",
	"integer_overflow",
	"integer_underflow",
	"money_concurrency",
	"evm_code_coverage",
	"analysis_error",
}

// Sentinel errors for schema and row validation.
var (
	ErrMissingColumn = errors.New("column missing from header")
	ErrFieldCount    = errors.New("field count does not match header")
	ErrEmptyKey      = errors.New("empty work item key")
)

// WorkItem is one contract read from the input stream.
type WorkItem struct {
	// Key identifies the item while it is in flight (the contract address).
	Key string
	// Payload is the hex bytecode handed to the analyzer.
	Payload string
	// Fields holds every input column, copied verbatim to the output row.
	Fields []string
	// Line is the 1-based line number of the record in its input file.
	Line int
	// KeyIndex and PayloadIndex locate the key and payload in Fields.
	KeyIndex     int
	PayloadIndex int
}

// Address returns the key as read from the input. Key may have been
// renamed while in flight; Address never is.
func (w WorkItem) Address() string {
	if w.KeyIndex < 0 || w.KeyIndex >= len(w.Fields) {
		return w.Key
	}

	return strings.TrimSpace(w.Fields[w.KeyIndex])
}

// Schema describes the column layout of one input file.
type Schema struct {
	columns    []string
	keyIdx     int
	payloadIdx int
}

// NewSchema validates the header of an input file and locates the key and
// payload columns.
func NewSchema(header []string, keyColumn, payloadColumn string) (*Schema, error) {
	cols := make([]string, len(header))
	for i, c := range header {
		cols[i] = strings.TrimSpace(c)
	}

	keyIdx := slices.Index(cols, keyColumn)
	if keyIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, keyColumn)
	}

	payloadIdx := slices.Index(cols, payloadColumn)
	if payloadIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, payloadColumn)
	}

	return &Schema{columns: cols, keyIdx: keyIdx, payloadIdx: payloadIdx}, nil
}

// Columns returns the input column names.
func (s *Schema) Columns() []string {
	return slices.Clone(s.columns)
}

// OutputHeader returns the input columns followed by AnalysisColumns.
func (s *Schema) OutputHeader() []string {
	out := make([]string, 0, len(s.columns)+len(AnalysisColumns))
	out = append(out, s.columns...)

	return append(out, AnalysisColumns...)
}

// Item builds a WorkItem from one parsed record.
func (s *Schema) Item(fields []string, line int) (WorkItem, error) {
	if len(fields) != len(s.columns) {
		return WorkItem{}, fmt.Errorf("%w: line %d has %d fields, header has %d",
			ErrFieldCount, line, len(fields), len(s.columns))
	}

	key := strings.TrimSpace(fields[s.keyIdx])
	if key == "" {
		return WorkItem{}, fmt.Errorf("%w: line %d", ErrEmptyKey, line)
	}

	return WorkItem{
		Key:          key,
		Payload:      strings.TrimSpace(fields[s.payloadIdx]),
		Fields:       slices.Clone(fields),
		Line:         line,
		KeyIndex:     s.keyIdx,
		PayloadIndex: s.payloadIdx,
	}, nil
}

// Row joins the item's pass-through fields with the analysis columns.
func Row(item WorkItem, analysis []string) []string {
	row := make([]string, 0, len(item.Fields)+len(analysis))
	row = append(row, item.Fields...)

	return append(row, analysis...)
}

// WithPayload returns the item's fields with the payload column replaced.
func WithPayload(item WorkItem, payload string) []string {
	row := slices.Clone(item.Fields)
	if item.PayloadIndex >= 0 && item.PayloadIndex < len(row) {
		row[item.PayloadIndex] = payload
	}

	return row
}
