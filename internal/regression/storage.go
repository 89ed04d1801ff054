package regression

import (
	"fmt"

	"goregress/domain/core"
	"goregress/domain/regression"
)

// Storage holds one stage's result tables and enforces that every
// (element, predictor) cell is written at most once.
type Storage struct {
	tables  regression.TableSet
	written map[[2]int]bool
}

// NewStorage allocates NA-filled coeff/low_ci/high_ci/pval/intercept tables.
// Each call returns an independent set; nothing carries over between stages.
func NewStorage(elements, predictors []string) *Storage {
	return &Storage{
		tables:  regression.NewTableSet(elements, predictors),
		written: make(map[[2]int]bool),
	}
}

// Tables exposes the stage's table set
func (s *Storage) Tables() regression.TableSet {
	return s.tables
}

// Fill writes the fitted statistics of every predictor in term for element.
// The intercept cell is 0 under the zero-intercept suffix, otherwise the
// fitted intercept. Nothing is written unless every cell can be written.
func (s *Storage) Fill(element string, term regression.Term, suffix string, result *regression.ModelResult) error {
	if result == nil {
		return fmt.Errorf("fill %s: nil model result", element)
	}
	coeff := s.tables[regression.StatCoeff]
	i, ok := coeff.RowIndex(element)
	if !ok {
		return core.NewInputShapeError("element", element)
	}

	cols := make([]int, len(term))
	for k, p := range term {
		j, ok := coeff.ColIndex(p)
		if !ok {
			return core.NewInputShapeError("predictor", p)
		}
		if s.written[[2]int{i, j}] {
			return fmt.Errorf("%w: %s/%s", core.ErrCellWritten, element, p)
		}
		if _, ok := result.Estimates[p]; !ok {
			return core.NewModelFitError(element+" ~ "+term.String()+suffix, fmt.Errorf("no estimate for %s", p))
		}
		cols[k] = j
	}

	intercept := result.Intercept
	if suffix == regression.SuffixZeroIntercept {
		intercept = 0
	}
	for k, p := range term {
		j := cols[k]
		est := result.Estimates[p]
		s.tables[regression.StatCoeff].Values[i][j] = est.Coefficient
		s.tables[regression.StatLowCI].Values[i][j] = est.CILow
		s.tables[regression.StatHighCI].Values[i][j] = est.CIHigh
		s.tables[regression.StatPValue].Values[i][j] = est.PValue
		s.tables[regression.StatIntercept].Values[i][j] = intercept
		s.written[[2]int{i, j}] = true
	}
	return nil
}

// SetCorrected attaches the q-value table
func (s *Storage) SetCorrected(qval *regression.Table) {
	s.tables[regression.StatQValue] = qval
}

// Revert sets the given predictors of element back to NA in every table,
// q-values included. It returns the number of (element, predictor) pairs reverted.
func (s *Storage) Revert(element string, predictors []string) int {
	n := 0
	for _, p := range predictors {
		hit := false
		for _, t := range s.tables {
			i, ok := t.RowIndex(element)
			if !ok {
				continue
			}
			j, ok := t.ColIndex(p)
			if !ok {
				continue
			}
			t.Values[i][j] = regression.NA
			hit = true
		}
		if hit {
			n++
		}
	}
	return n
}
