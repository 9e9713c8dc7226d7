package models

import (
	"errors"
	"fmt"
)

// ErrNoLabel is returned when a matrix has no label values for its feature rows.
var ErrNoLabel = errors.New("matrix label column missing")

// Matrix is a one-hot encoded dataset. Labels[i] is the conversion rate of
// Features[i], and every feature row is aligned with Columns.
type Matrix struct {
	Columns  []string    `json:"columns"`
	Labels   []float64   `json:"labels"`
	Features [][]float64 `json:"features"`
}

// Len returns the number of rows.
func (m *Matrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Features)
}

// Width returns the number of feature columns.
func (m *Matrix) Width() int {
	if m == nil {
		return 0
	}
	return len(m.Columns)
}

// Validate checks that the label column is present and every row matches the column count.
func (m *Matrix) Validate() error {
	if m == nil {
		return ErrNoLabel
	}
	if len(m.Labels) != len(m.Features) {
		return fmt.Errorf("%w: %d labels for %d rows", ErrNoLabel, len(m.Labels), len(m.Features))
	}
	for i, row := range m.Features {
		if len(row) != len(m.Columns) {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(m.Columns))
		}
	}
	return nil
}

// Rows returns a new matrix holding the rows at the given indices, in order.
// Indices may repeat; row slices are shared with the receiver.
func (m *Matrix) Rows(indices []int) *Matrix {
	out := &Matrix{
		Columns:  m.Columns,
		Labels:   make([]float64, len(indices)),
		Features: make([][]float64, len(indices)),
	}
	for i, idx := range indices {
		out.Labels[i] = m.Labels[idx]
		out.Features[i] = m.Features[idx]
	}
	return out
}

// ColumnIndex returns the position of the named column or -1.
func (m *Matrix) ColumnIndex(name string) int {
	for i, c := range m.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// SelectColumns projects the matrix onto the given columns. Columns that do
// not exist in the receiver are reported as an error.
func (m *Matrix) SelectColumns(columns []string) (*Matrix, error) {
	positions := make([]int, len(columns))
	for i, c := range columns {
		idx := m.ColumnIndex(c)
		if idx < 0 {
			return nil, fmt.Errorf("unknown column %q", c)
		}
		positions[i] = idx
	}
	out := &Matrix{
		Columns:  append([]string(nil), columns...),
		Labels:   append([]float64(nil), m.Labels...),
		Features: make([][]float64, len(m.Features)),
	}
	for i, row := range m.Features {
		projected := make([]float64, len(positions))
		for j, p := range positions {
			projected[j] = row[p]
		}
		out.Features[i] = projected
	}
	return out, nil
}

// Split holds the disjoint train, validation and test partitions of a matrix.
type Split struct {
	Train      *Matrix
	Validation *Matrix
	Test       *Matrix
}
