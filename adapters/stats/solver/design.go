package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"goregress/domain/core"
	"goregress/domain/dataset"
	"goregress/domain/regression"
)

// interceptColumn names the constant column of the design matrix
const interceptColumn = "(Intercept)"

// design is the complete-case model matrix for one formula
type design struct {
	y      []float64
	x      *mat.Dense
	names  []string // design column names, intercept first when present
	groups []string // one label per kept row, nil for OLS
}

func (d *design) rows() int { return len(d.y) }

func (d *design) cols() int { return len(d.names) }

// buildDesign extracts response, predictors and optional group labels and
// drops every row with a missing value in any of them.
func buildDesign(bundle *dataset.MatrixBundle, f regression.Formula, groupColumn string) (*design, error) {
	y, ok := bundle.GetColumnData(f.Response)
	if !ok {
		return nil, core.NewInputShapeError("element", f.Response)
	}
	predictors := make([][]float64, len(f.Term))
	for k, p := range f.Term {
		col, ok := bundle.GetColumnData(p)
		if !ok {
			return nil, core.NewInputShapeError("predictor", p)
		}
		predictors[k] = col
	}
	var labels []string
	if groupColumn != "" {
		labels, ok = bundle.GroupLabels(groupColumn)
		if !ok {
			return nil, core.NewInputShapeError("group", groupColumn)
		}
	}

	keep := make([]int, 0, len(y))
	for i, v := range y {
		if !finite(v) {
			continue
		}
		complete := true
		for _, col := range predictors {
			if !finite(col[i]) {
				complete = false
				break
			}
		}
		if complete && (labels == nil || labels[i] != "") {
			keep = append(keep, i)
		}
	}

	d := &design{}
	if f.Intercept {
		d.names = append(d.names, interceptColumn)
	}
	d.names = append(d.names, f.Term...)

	if len(keep) <= d.cols() {
		return nil, fmt.Errorf("%w: %d complete rows for %d parameters", core.ErrInsufficientRows, len(keep), d.cols())
	}

	d.y = make([]float64, len(keep))
	d.x = mat.NewDense(len(keep), d.cols(), nil)
	if labels != nil {
		d.groups = make([]string, len(keep))
	}
	for r, i := range keep {
		d.y[r] = y[i]
		c := 0
		if f.Intercept {
			d.x.Set(r, 0, 1)
			c = 1
		}
		for k, col := range predictors {
			d.x.Set(r, c+k, col[i])
		}
		if labels != nil {
			d.groups[r] = labels[i]
		}
	}
	return d, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
