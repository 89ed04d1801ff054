package regression

import (
	"fmt"
	"math"
	"strings"

	"goregress/domain/core"
)

// ModelKind selects the solver family
type ModelKind string

const (
	ModelLinear   ModelKind = "linear"    // ordinary least squares
	ModelLinearME ModelKind = "linear_me" // linear mixed effects, random intercept per group
)

// ModelKinds lists the supported kinds in display order
var ModelKinds = []ModelKind{ModelLinear, ModelLinearME}

// ParseModelKind validates a configured model name
func ParseModelKind(s string) (ModelKind, error) {
	k := ModelKind(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range ModelKinds {
		if k == known {
			return k, nil
		}
	}
	return "", core.NewConfigError("model", fmt.Sprintf("unknown model %q (valid: %s, %s)", s, ModelLinear, ModelLinearME))
}

// StageName identifies one pass of the pipeline
type StageName string

const (
	StageUnivariate   StageName = "univariate"
	StageMultivariate StageName = "multivariate"
)

// Term is an ordered predictor set fitted together in one formula.
type Term []string

// TermSeparator joins predictors inside a formula term
const TermSeparator = "+"

// String joins the predictors the way they appear in a formula
func (t Term) String() string {
	return strings.Join(t, TermSeparator)
}

// ParseTerm splits a "+"-joined term, trimming blanks
func ParseTerm(s string) Term {
	var t Term
	for _, p := range strings.Split(s, TermSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			t = append(t, p)
		}
	}
	return t
}

// Estimate is the solver output for one predictor of a fitted formula
type Estimate struct {
	Coefficient float64
	CILow       float64
	CIHigh      float64
	PValue      float64
}

// ModelResult is the uniform record returned by every solver.
type ModelResult struct {
	Estimates map[string]Estimate
	// Intercept is NaN when the formula had no intercept or the fit produced none.
	Intercept float64
	NObs      int
	Converged bool
}

// NewModelResult creates an empty result with no intercept
func NewModelResult(nobs int) *ModelResult {
	return &ModelResult{
		Estimates: make(map[string]Estimate),
		Intercept: math.NaN(),
		NObs:      nobs,
		Converged: true,
	}
}

// Formula is the solver contract: response ~ term (+1 | -1)
type Formula struct {
	Response  string
	Term      Term
	Intercept bool
}

// Intercept suffixes as they appear in formula strings
const (
	SuffixIntercept     = " + 1"
	SuffixZeroIntercept = " - 1"
)

// Suffix returns the intercept suffix of the formula
func (f Formula) Suffix() string {
	if f.Intercept {
		return SuffixIntercept
	}
	return SuffixZeroIntercept
}

// String renders the formula, e.g. "TP53 ~ age+sex - 1"
func (f Formula) String() string {
	return f.Response + " ~ " + f.Term.String() + f.Suffix()
}
