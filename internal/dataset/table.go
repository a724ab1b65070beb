package dataset

import (
	"fmt"
	"slices"
	"strconv"
)

// Table is tabular data with a header row, as loaded by CSVDataset.
type Table struct {
	Columns []string
	Rows    [][]string
}

func (t *Table) index(name string) (int, error) {
	i := slices.Index(t.Columns, name)
	if i < 0 {
		return 0, fmt.Errorf("no column %q", name)
	}
	return i, nil
}

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]string, error) {
	i, err := t.index(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		if i < len(row) {
			out[r] = row[i]
		}
	}
	return out, nil
}

// Floats parses the named column as float64 values.
func (t *Table) Floats(name string) ([]float64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(col))
	for r, v := range col {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", name, r, err)
		}
		out[r] = f
	}
	return out, nil
}

// Select returns a new table with only the named columns, in that order.
func (t *Table) Select(names ...string) (*Table, error) {
	idx := make([]int, len(names))
	for n, name := range names {
		i, err := t.index(name)
		if err != nil {
			return nil, err
		}
		idx[n] = i
	}
	out := &Table{Columns: slices.Clone(names), Rows: make([][]string, len(t.Rows))}
	for r, row := range t.Rows {
		sel := make([]string, len(idx))
		for n, i := range idx {
			if i < len(row) {
				sel[n] = row[i]
			}
		}
		out.Rows[r] = sel
	}
	return out, nil
}

// SetColumn replaces the named column, or appends it when absent.
// len(values) must equal the row count.
func (t *Table) SetColumn(name string, values []string) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("column %q: got %d values for %d rows", name, len(values), len(t.Rows))
	}
	i := slices.Index(t.Columns, name)
	if i < 0 {
		t.Columns = append(t.Columns, name)
		i = len(t.Columns) - 1
	}
	for r := range t.Rows {
		for len(t.Rows[r]) <= i {
			t.Rows[r] = append(t.Rows[r], "")
		}
		t.Rows[r][i] = values[r]
	}
	return nil
}
