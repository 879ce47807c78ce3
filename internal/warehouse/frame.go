package warehouse

import (
	"encoding/csv"
	"fmt"
	"strconv"
)

// Frame is an in-memory, column-ordered view of a query result. Cells can be
// mutated with Set; WriteBack pushes only the touched rows to the warehouse.
type Frame struct {
	columns []string
	colIdx  map[string]int
	rows    [][]any

	dirty map[int]struct{}
}

func NewFrame(columns []string) *Frame {
	colIdx := make(map[string]int, len(columns))
	for i, col := range columns {
		colIdx[col] = i
	}
	return &Frame{
		columns: columns,
		colIdx:  colIdx,
		dirty:   make(map[int]struct{}),
	}
}

func (f *Frame) Columns() []string {
	return f.columns
}

func (f *Frame) NumRows() int {
	return len(f.rows)
}

func (f *Frame) AppendRow(row []any) error {
	if len(row) != len(f.columns) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(row), len(f.columns))
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *Frame) Get(row int, column string) (any, error) {
	col, ok := f.colIdx[column]
	if !ok {
		return nil, fmt.Errorf("frame has no column %q", column)
	}
	if row < 0 || row >= len(f.rows) {
		return nil, fmt.Errorf("row %d out of range, frame has %d rows", row, len(f.rows))
	}
	return f.rows[row][col], nil
}

func (f *Frame) Set(row int, column string, value any) error {
	col, ok := f.colIdx[column]
	if !ok {
		return fmt.Errorf("frame has no column %q", column)
	}
	if row < 0 || row >= len(f.rows) {
		return fmt.Errorf("row %d out of range, frame has %d rows", row, len(f.rows))
	}

	f.rows[row][col] = value
	f.dirty[row] = struct{}{}

	return nil
}

// DirtyRows returns the indices of rows modified since the frame was loaded,
// in ascending order.
func (f *Frame) DirtyRows() []int {
	rows := make([]int, 0, len(f.dirty))
	for row := range f.dirty {
		rows = append(rows, row)
	}
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j] < rows[j-1]; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
	return rows
}

func (f *Frame) Row(row int) ([]any, error) {
	if row < 0 || row >= len(f.rows) {
		return nil, fmt.Errorf("row %d out of range, frame has %d rows", row, len(f.rows))
	}
	return f.rows[row], nil
}

func (f *Frame) clearDirty() {
	f.dirty = make(map[int]struct{})
}


// WriteCSV renders the frame as CSV with a header row, the format the dataset
// upload endpoints expect.
func (f *Frame) WriteCSV(w *csv.Writer) error {
	if err := w.Write(f.columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(f.columns))
	for _, row := range f.rows {
		for i, v := range row {
			record[i] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}
