package solver

import (
	"context"

	"gonum.org/v1/gonum/stat/distuv"

	"goregress/domain/core"
	"goregress/domain/dataset"
	"goregress/domain/regression"
)

// OLS fits ordinary least squares on complete cases with t-based inference.
type OLS struct {
	Alpha float64
}

// NewOLS creates an OLS solver reporting (1-alpha) confidence intervals
func NewOLS(alpha float64) *OLS {
	return &OLS{Alpha: alpha}
}

func (s *OLS) Kind() regression.ModelKind { return regression.ModelLinear }

func (s *OLS) Fit(ctx context.Context, bundle *dataset.MatrixBundle, f regression.Formula) (*regression.ModelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := buildDesign(bundle, f, "")
	if err != nil {
		return nil, core.NewModelFitError(f.String(), err)
	}

	beta, rss, inv, err := leastSquares(d.x, d.y)
	if err != nil {
		return nil, core.NewModelFitError(f.String(), core.ErrSingularDesign)
	}

	df := float64(d.rows() - d.cols())
	res := regression.NewModelResult(d.rows())
	fillEstimates(res, d.names, beta, inv, rss/df, distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}, s.Alpha)
	return res, nil
}
