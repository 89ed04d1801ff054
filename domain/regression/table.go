package regression

import (
	"fmt"
	"math"

	"goregress/domain/core"
)

// Statistic names one result table
type Statistic string

const (
	StatCoeff     Statistic = "coeff"
	StatLowCI     Statistic = "low_ci"
	StatHighCI    Statistic = "high_ci"
	StatPValue    Statistic = "pval"
	StatIntercept Statistic = "intercept"
	StatQValue    Statistic = "qval"
)

// FittedStatistics are the tables every stage allocates; qval is added by correction.
var FittedStatistics = []Statistic{StatCoeff, StatLowCI, StatHighCI, StatPValue, StatIntercept}

// AllStatistics in canonical output order
var AllStatistics = []Statistic{StatCoeff, StatLowCI, StatHighCI, StatPValue, StatIntercept, StatQValue}

// ParseStatistic validates a statistic name
func ParseStatistic(s string) (Statistic, error) {
	for _, st := range AllStatistics {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown statistic %q", s)
}

// NA is the missing-cell marker inside tables
var NA = math.NaN()

// IsNA reports whether a cell value is missing
func IsNA(v float64) bool { return math.IsNaN(v) }

// Table is a dense rows=elements x cols=predictors grid.
type Table struct {
	Rows   []string
	Cols   []string
	Values [][]float64

	rowIdx map[string]int
	colIdx map[string]int
}

// NewTable creates an all-NA table
func NewTable(rows, cols []string) *Table {
	t := &Table{
		Rows:   append([]string(nil), rows...),
		Cols:   append([]string(nil), cols...),
		Values: make([][]float64, len(rows)),
	}
	for i := range t.Values {
		row := make([]float64, len(cols))
		for j := range row {
			row[j] = NA
		}
		t.Values[i] = row
	}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.rowIdx = make(map[string]int, len(t.Rows))
	for i, r := range t.Rows {
		t.rowIdx[r] = i
	}
	t.colIdx = make(map[string]int, len(t.Cols))
	for j, c := range t.Cols {
		t.colIdx[c] = j
	}
}

// Shape returns (rows, cols)
func (t *Table) Shape() (int, int) {
	return len(t.Rows), len(t.Cols)
}

// Len returns the number of cells
func (t *Table) Len() int {
	r, c := t.Shape()
	return r * c
}

// RowIndex finds an element row
func (t *Table) RowIndex(row string) (int, bool) {
	i, ok := t.rowIdx[row]
	return i, ok
}

// ColIndex finds a predictor column
func (t *Table) ColIndex(col string) (int, bool) {
	j, ok := t.colIdx[col]
	return j, ok
}

// Get returns a cell; ok is false when the row or column does not exist
func (t *Table) Get(row, col string) (float64, bool) {
	i, ok := t.rowIdx[row]
	if !ok {
		return NA, false
	}
	j, ok := t.colIdx[col]
	if !ok {
		return NA, false
	}
	return t.Values[i][j], true
}

// Set writes a cell
func (t *Table) Set(row, col string, v float64) error {
	i, ok := t.rowIdx[row]
	if !ok {
		return core.NewInputShapeError("element", row)
	}
	j, ok := t.colIdx[col]
	if !ok {
		return core.NewInputShapeError("predictor", col)
	}
	t.Values[i][j] = v
	return nil
}

// Clone deep-copies the table
func (t *Table) Clone() *Table {
	c := NewTable(t.Rows, t.Cols)
	for i, row := range t.Values {
		copy(c.Values[i], row)
	}
	return c
}

// NAMask reports, per cell, whether the value is missing
func (t *Table) NAMask() [][]bool {
	mask := make([][]bool, len(t.Values))
	for i, row := range t.Values {
		mask[i] = make([]bool, len(row))
		for j, v := range row {
			mask[i][j] = IsNA(v)
		}
	}
	return mask
}

// CountNA counts missing cells
func (t *Table) CountNA() int {
	n := 0
	for _, row := range t.Values {
		for _, v := range row {
			if IsNA(v) {
				n++
			}
		}
	}
	return n
}

// TableSet maps statistic name to its table for one stage
type TableSet map[Statistic]*Table

// NewTableSet allocates NA-filled tables for every fitted statistic
func NewTableSet(elements, predictors []string) TableSet {
	ts := make(TableSet, len(AllStatistics))
	for _, st := range FittedStatistics {
		ts[st] = NewTable(elements, predictors)
	}
	return ts
}

// Statistics lists the tables present, in canonical order
func (ts TableSet) Statistics() []Statistic {
	var out []Statistic
	for _, st := range AllStatistics {
		if _, ok := ts[st]; ok {
			out = append(out, st)
		}
	}
	return out
}

// Significance returns the table used for thresholding: qval when present, else pval.
func (ts TableSet) Significance() (*Table, Statistic, bool) {
	if t, ok := ts[StatQValue]; ok && t != nil {
		return t, StatQValue, true
	}
	if t, ok := ts[StatPValue]; ok && t != nil {
		return t, StatPValue, true
	}
	return nil, "", false
}
