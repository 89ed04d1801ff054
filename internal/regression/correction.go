package regression

import (
	"sort"

	"goregress/domain/core"
	"goregress/domain/regression"
)

// CorrectBH applies Benjamini-Hochberg across every non-NA cell of the table
// at once (not per row or column). NA cells stay NA in place; the result has
// the same rows and columns as pval.
func CorrectBH(pval *regression.Table) (*regression.Table, error) {
	if pval == nil || pval.Len() == 0 {
		return nil, core.ErrEmptyTable
	}

	type cell struct {
		i, j int
		p    float64
	}
	var cells []cell
	for i, row := range pval.Values {
		for j, p := range row {
			if !regression.IsNA(p) {
				cells = append(cells, cell{i, j, p})
			}
		}
	}

	q := regression.NewTable(pval.Rows, pval.Cols)
	m := len(cells)
	if m == 0 {
		return q, nil
	}

	// Ties keep their flatten order, but tied p-values end up with the same
	// q-value after the step-up pass, so the result does not depend on it.
	sort.SliceStable(cells, func(a, b int) bool { return cells[a].p < cells[b].p })

	adjusted := make([]float64, m)
	running := 1.0
	for k := m - 1; k >= 0; k-- {
		v := cells[k].p * float64(m) / float64(k+1)
		if v < running {
			running = v
		}
		adjusted[k] = running
	}
	for k, c := range cells {
		q.Values[c.i][c.j] = adjusted[k]
	}
	return q, nil
}
