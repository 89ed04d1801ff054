package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"goregress/domain/core"
)

// ElementTable is the cleaned upstream metric table: rows = elements, cols = samples.
type ElementTable struct {
	Elements []string
	Samples  []string
	Values   [][]float64 // [element][sample], NaN = missing
}

// PredictorTable is the per-sample covariate table keyed by a sample column.
// Cells stay raw so grouping columns can keep their labels.
type PredictorTable struct {
	SampleColumn string
	Columns      []string // excludes the sample column
	Rows         map[string][]string
	Order        []string // sample ids in file order
}

// MergeSpec selects which predictor columns to bring in.
type MergeSpec struct {
	Predictors  []string // empty = every predictor-table column except GroupColumn
	GroupColumn string   // random-effects column, optional
}

// MergeReport counts what the inner join dropped
type MergeReport struct {
	Samples              int
	SamplesNoPredictors  []string
	MissingPredictors    []string // configured but absent from the predictor table
	UnparseablePredictor map[string]int
}

// Merge transposes the element table to sample rows and joins the predictor
// table on sample id. Samples without predictor rows are dropped. Configured
// predictors the table lacks are listed in the report and left out of the
// bundle so their fits surface as input shape errors.
func Merge(elements *ElementTable, predictors *PredictorTable, spec MergeSpec) (*MatrixBundle, *MergeReport, error) {
	if elements == nil || len(elements.Elements) == 0 {
		return nil, nil, fmt.Errorf("%w: element table is empty", core.ErrInputShape)
	}
	if predictors == nil {
		return nil, nil, fmt.Errorf("%w: predictor table is missing", core.ErrInputShape)
	}

	colIdx := make(map[string]int, len(predictors.Columns))
	for i, c := range predictors.Columns {
		colIdx[c] = i
	}

	wanted := spec.Predictors
	if len(wanted) == 0 {
		for _, c := range predictors.Columns {
			if c != spec.GroupColumn {
				wanted = append(wanted, c)
			}
		}
	}
	report := &MergeReport{UnparseablePredictor: make(map[string]int)}
	present := make([]string, 0, len(wanted))
	for _, p := range wanted {
		if _, ok := colIdx[p]; !ok {
			report.MissingPredictors = append(report.MissingPredictors, p)
			continue
		}
		present = append(present, p)
	}
	if spec.GroupColumn != "" {
		if _, ok := colIdx[spec.GroupColumn]; !ok {
			return nil, nil, core.NewInputShapeError("random effect column", spec.GroupColumn)
		}
	}

	var keep []int
	var sampleIDs []string
	for j, s := range elements.Samples {
		if _, ok := predictors.Rows[s]; !ok {
			report.SamplesNoPredictors = append(report.SamplesNoPredictors, s)
			continue
		}
		keep = append(keep, j)
		sampleIDs = append(sampleIDs, s)
	}
	if len(sampleIDs) == 0 {
		return nil, report, fmt.Errorf("%w: no sample is shared by the element and predictor tables", core.ErrInputShape)
	}
	report.Samples = len(sampleIDs)

	bundle := NewMatrixBundle(sampleIDs)
	for i, element := range elements.Elements {
		values := make([]float64, len(keep))
		for r, j := range keep {
			values[r] = elements.Values[i][j]
		}
		if err := bundle.AddColumn(element, RoleElement, values); err != nil {
			return nil, report, err
		}
	}

	for _, p := range present {
		values := make([]float64, len(sampleIDs))
		for r, s := range sampleIDs {
			v, ok := ParseValue(predictors.Rows[s][colIdx[p]])
			if !ok {
				report.UnparseablePredictor[p]++
			}
			values[r] = v
		}
		if err := bundle.AddColumn(p, RolePredictor, values); err != nil {
			return nil, report, err
		}
	}

	if spec.GroupColumn != "" {
		labels := make([]string, len(sampleIDs))
		for r, s := range sampleIDs {
			labels[r] = strings.TrimSpace(predictors.Rows[s][colIdx[spec.GroupColumn]])
		}
		if err := bundle.AddGroupColumn(spec.GroupColumn, labels); err != nil {
			return nil, report, err
		}
	}

	if err := bundle.Validate(); err != nil {
		return nil, report, err
	}
	bundle.ComputeFingerprint()
	return bundle, report, nil
}

// ParseValue reads a numeric cell. Missing markers parse to NaN with ok=true;
// text that is not a number parses to NaN with ok=false.
func ParseValue(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none", "<na>":
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), false
	}
	return v, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
