package dataset

import (
	"fmt"
	"math"

	"goregress/domain/core"
)

// ColumnRole tells the engine how a matrix column is used
type ColumnRole string

const (
	RoleElement   ColumnRole = "element"   // response variable, one per element
	RolePredictor ColumnRole = "predictor" // candidate covariate
	RoleGroup     ColumnRole = "group"     // random-effects grouping labels
)

// MatrixBundle is the merged input for one metric: sample rows, one column per
// element and per predictor, plus optional grouping columns.
type MatrixBundle struct {
	Matrix     Matrix
	ColumnMeta []ColumnMeta

	// Grouping columns hold labels, not numbers, so they live outside Matrix.
	Groups map[string][]string

	Fingerprint core.Fingerprint

	index map[string]int
}

// Matrix represents dense numerical data, NaN marks a missing value
type Matrix struct {
	Data      [][]float64 // rows=samples, cols=variables
	SampleIDs []string
	Columns   []string
}

// ColumnMeta contains metadata for each matrix column
type ColumnMeta struct {
	Name         string
	Role         ColumnRole
	MissingCount int
}

// NewMatrixBundle creates an empty bundle over the given samples
func NewMatrixBundle(sampleIDs []string) *MatrixBundle {
	data := make([][]float64, len(sampleIDs))
	for i := range data {
		data[i] = make([]float64, 0, 8)
	}
	return &MatrixBundle{
		Matrix: Matrix{
			Data:      data,
			SampleIDs: append([]string(nil), sampleIDs...),
		},
		Groups: make(map[string][]string),
		index:  make(map[string]int),
	}
}

// AddColumn appends a numeric column
func (b *MatrixBundle) AddColumn(name string, role ColumnRole, values []float64) error {
	if name == "" {
		return fmt.Errorf("%w: column name cannot be empty", core.ErrInputShape)
	}
	if len(values) != b.RowCount() {
		return fmt.Errorf("%w: column %q has %d values, expected %d", core.ErrInputShape, name, len(values), b.RowCount())
	}
	if b.HasColumn(name) {
		return fmt.Errorf("%w: duplicate column %q", core.ErrInputShape, name)
	}

	missing := 0
	for i, v := range values {
		if math.IsNaN(v) {
			missing++
		}
		b.Matrix.Data[i] = append(b.Matrix.Data[i], v)
	}

	b.index[name] = len(b.Matrix.Columns)
	b.Matrix.Columns = append(b.Matrix.Columns, name)
	b.ColumnMeta = append(b.ColumnMeta, ColumnMeta{Name: name, Role: role, MissingCount: missing})
	return nil
}

// AddGroupColumn registers a label column used for random-effects grouping.
// Empty labels are treated as missing.
func (b *MatrixBundle) AddGroupColumn(name string, labels []string) error {
	if len(labels) != b.RowCount() {
		return fmt.Errorf("%w: group column %q has %d labels, expected %d", core.ErrInputShape, name, len(labels), b.RowCount())
	}
	if _, ok := b.Groups[name]; ok || b.HasColumn(name) {
		return fmt.Errorf("%w: duplicate column %q", core.ErrInputShape, name)
	}
	b.Groups[name] = append([]string(nil), labels...)
	return nil
}

// HasColumn reports whether a numeric column exists
func (b *MatrixBundle) HasColumn(name string) bool {
	_, ok := b.index[name]
	return ok
}

// GetColumnData returns a copy of the data for a specific column
func (b *MatrixBundle) GetColumnData(name string) ([]float64, bool) {
	colIdx, found := b.index[name]
	if !found {
		return nil, false
	}

	data := make([]float64, len(b.Matrix.Data))
	for i, row := range b.Matrix.Data {
		data[i] = row[colIdx]
	}
	return data, true
}

// GroupLabels returns the labels of a grouping column
func (b *MatrixBundle) GroupLabels(name string) ([]string, bool) {
	labels, ok := b.Groups[name]
	return labels, ok
}

// ColumnsByRole lists column names of one role in insertion order
func (b *MatrixBundle) ColumnsByRole(role ColumnRole) []string {
	var out []string
	for _, meta := range b.ColumnMeta {
		if meta.Role == role {
			out = append(out, meta.Name)
		}
	}
	return out
}

// Elements returns the element column names
func (b *MatrixBundle) Elements() []string { return b.ColumnsByRole(RoleElement) }

// Predictors returns the predictor column names
func (b *MatrixBundle) Predictors() []string { return b.ColumnsByRole(RolePredictor) }

// RowCount returns the number of samples (rows)
func (b *MatrixBundle) RowCount() int {
	return len(b.Matrix.SampleIDs)
}

// ColumnCount returns the number of numeric columns
func (b *MatrixBundle) ColumnCount() int {
	return len(b.Matrix.Columns)
}

// Validate ensures the bundle is internally consistent
func (b *MatrixBundle) Validate() error {
	if b.RowCount() == 0 {
		return fmt.Errorf("%w: matrix has no samples", core.ErrInputShape)
	}
	if len(b.ColumnMeta) != b.ColumnCount() {
		return fmt.Errorf("%w: column meta length mismatch", core.ErrInputShape)
	}
	for i, row := range b.Matrix.Data {
		if len(row) != b.ColumnCount() {
			return fmt.Errorf("%w: row %d has %d columns, expected %d", core.ErrInputShape, i, len(row), b.ColumnCount())
		}
	}
	return nil
}

// ComputeFingerprint digests sample ids, column names, roles, values and group labels.
func (b *MatrixBundle) ComputeFingerprint() core.Fingerprint {
	fb := core.NewFingerprintBuilder()
	for _, id := range b.Matrix.SampleIDs {
		fb.AddString(id)
	}
	for j, meta := range b.ColumnMeta {
		fb.AddString(meta.Name)
		fb.AddString(string(meta.Role))
		for _, row := range b.Matrix.Data {
			fb.AddFloat(row[j])
		}
	}
	for _, name := range sortedKeys(b.Groups) {
		fb.AddString(name)
		for _, label := range b.Groups[name] {
			fb.AddString(label)
		}
	}
	b.Fingerprint = fb.Sum()
	return b.Fingerprint
}
