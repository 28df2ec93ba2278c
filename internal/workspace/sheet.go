package workspace

import (
	"context"
)

// CellUpdate sets one cell. Row and Col are zero-based; row 0 is the header.
type CellUpdate struct {
	Row   int
	Col   int
	Value string
}

// Validation is a strict dropdown on a column, excluding the header.
type Validation struct {
	Col    int
	Values []string
}

// Color is an RGB colour with components in [0,1].
type Color struct {
	Red, Green, Blue float64
}

// ConditionalFormat colours a column's cells whose text equals Value.
type ConditionalFormat struct {
	Col   int
	Value string
	Color Color
}

// Sheet is the tabular workspace the reconciler reads and writes. Values are
// written as if typed by a user, so formulas and dates are interpreted.
type Sheet interface {
	// ReadAll returns every row including the header, with formulas unevaluated.
	ReadAll(ctx context.Context) ([][]string, error)
	WriteHeader(ctx context.Context, header []string) error
	AppendRows(ctx context.Context, rows [][]string) error
	UpdateCells(ctx context.Context, updates []CellUpdate) error
	ApplyValidations(ctx context.Context, rules []Validation) error
	ApplyConditionalFormats(ctx context.Context, rules []ConditionalFormat) error
	// ProtectRanges marks columns as protected, warning-only.
	ProtectRanges(ctx context.Context, cols []int) error
}

// ColumnLetter converts a zero-based column index to A1 letters.
func ColumnLetter(col int) string {
	var b []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}
