package regression

import (
	"goregress/domain/core"
	"goregress/domain/regression"
)

// Schema reports which columns the merged matrix carries
type Schema interface {
	HasColumn(name string) bool
}

// InterceptSuffix returns " - 1" when any predictor of the term matches the
// zero-intercept rule, " + 1" otherwise.
func InterceptSuffix(term regression.Term, rule regression.ZeroInterceptRule) string {
	if rule.Matches(term) {
		return regression.SuffixZeroIntercept
	}
	return regression.SuffixIntercept
}

// BuildFormula assembles "element ~ term<suffix>". When schema is non-nil every
// name is checked against it first so that missing columns surface as input
// shape errors rather than solver failures.
func BuildFormula(element string, term regression.Term, rule regression.ZeroInterceptRule, schema Schema) (regression.Formula, error) {
	if len(term) == 0 {
		return regression.Formula{}, core.NewInputShapeError("term", element+" ~ <empty>")
	}
	if schema != nil {
		if !schema.HasColumn(element) {
			return regression.Formula{}, core.NewInputShapeError("element", element)
		}
		for _, p := range term {
			if !schema.HasColumn(p) {
				return regression.Formula{}, core.NewInputShapeError("predictor", p)
			}
		}
	}
	return regression.Formula{
		Response:  element,
		Term:      append(regression.Term(nil), term...),
		Intercept: InterceptSuffix(term, rule) == regression.SuffixIntercept,
	}, nil
}
