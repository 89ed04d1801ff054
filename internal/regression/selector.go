package regression

import (
	"fmt"

	"goregress/domain/core"
	"goregress/domain/regression"
)

// SelectPredictors picks the multivariate term of every element from the
// univariate tables. q-values are used when present, otherwise p-values; a
// predictor is significant when its value is strictly below threshold.
// A forced rule is unioned in when it intersects the element's significant
// set; members added only by a rule are reported as forced. Elements left
// with fewer than two predictors are dropped.
func SelectPredictors(uni regression.TableSet, threshold float64, rules []regression.ForcedRule) ([]regression.Selection, error) {
	sig, stat, ok := uni.Significance()
	if !ok {
		return nil, fmt.Errorf("%w: no pval or qval table to select from", core.ErrEmptyTable)
	}
	if sig.Len() == 0 {
		return nil, fmt.Errorf("%w: %s table has no cells", core.ErrEmptyTable, stat)
	}
	for _, rule := range rules {
		for _, p := range rule {
			if _, ok := sig.ColIndex(p); !ok {
				return nil, core.NewConfigError("predictors_multi_force", fmt.Sprintf("unknown predictor %q", p))
			}
		}
	}

	var out []regression.Selection
	for i, element := range sig.Rows {
		significant := make(map[string]bool)
		for j, p := range sig.Cols {
			v := sig.Values[i][j]
			if !regression.IsNA(v) && v < threshold {
				significant[p] = true
			}
		}

		selected := make(map[string]bool, len(significant))
		for p := range significant {
			selected[p] = true
		}
		for _, rule := range rules {
			if rule.Intersects(significant) {
				for _, p := range rule {
					selected[p] = true
				}
			}
		}
		if len(selected) <= 1 {
			continue
		}

		sel := regression.Selection{Element: element}
		for _, p := range sig.Cols {
			if !selected[p] {
				continue
			}
			sel.Term = append(sel.Term, p)
			if !significant[p] {
				sel.Forced = append(sel.Forced, p)
			}
		}
		out = append(out, sel)
	}
	return out, nil
}
