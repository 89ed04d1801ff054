package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"goregress/domain/core"
	"goregress/domain/dataset"
	"goregress/domain/regression"
)

// Mixed fits a linear mixed model with one random intercept per group by
// restricted maximum likelihood. The variance ratio gamma = sigma_u^2/sigma_e^2
// is optimized on the profiled REML criterion; fixed effects use Wald z-tests.
type Mixed struct {
	Alpha         float64
	GroupColumn   string
	MaxIterations int
}

// NewMixed creates a random-intercept solver grouped by groupColumn
func NewMixed(groupColumn string, alpha float64, maxIterations int) *Mixed {
	if maxIterations <= 0 {
		maxIterations = 200
	}
	return &Mixed{Alpha: alpha, GroupColumn: groupColumn, MaxIterations: maxIterations}
}

func (s *Mixed) Kind() regression.ModelKind { return regression.ModelLinearME }

// groupIndex maps each kept row to its group and counts group sizes
type groupIndex struct {
	of    []int
	sizes []float64
}

func indexGroups(labels []string) groupIndex {
	ids := make(map[string]int)
	gi := groupIndex{of: make([]int, len(labels))}
	for r, l := range labels {
		g, ok := ids[l]
		if !ok {
			g = len(gi.sizes)
			ids[l] = g
			gi.sizes = append(gi.sizes, 0)
		}
		gi.of[r] = g
		gi.sizes[g]++
	}
	return gi
}

// whiten applies V^-1/2 (up to sigma_e) to every column: v - c_g * mean_g(v)
// with c_g = 1 - 1/sqrt(1 + n_g*gamma).
func (gi groupIndex) whiten(d *design, gamma float64) (*mat.Dense, []float64) {
	n, p := d.rows(), d.cols()
	shrink := make([]float64, len(gi.sizes))
	for g, ng := range gi.sizes {
		shrink[g] = 1 - 1/math.Sqrt(1+ng*gamma)
	}

	means := func(col func(r int) float64) []float64 {
		m := make([]float64, len(gi.sizes))
		for r := 0; r < n; r++ {
			m[gi.of[r]] += col(r)
		}
		for g := range m {
			m[g] /= gi.sizes[g]
		}
		return m
	}

	ym := means(func(r int) float64 { return d.y[r] })
	y := make([]float64, n)
	for r := range y {
		g := gi.of[r]
		y[r] = d.y[r] - shrink[g]*ym[g]
	}

	x := mat.NewDense(n, p, nil)
	for j := 0; j < p; j++ {
		xm := means(func(r int) float64 { return d.x.At(r, j) })
		for r := 0; r < n; r++ {
			g := gi.of[r]
			x.Set(r, j, d.x.At(r, j)-shrink[g]*xm[g])
		}
	}
	return x, y
}

// reml is the profiled -2 REML log-likelihood up to a constant
func (gi groupIndex) reml(d *design, gamma float64) float64 {
	x, y := gi.whiten(d, gamma)
	_, rss, _, err := leastSquares(x, y)
	if err != nil || rss <= 0 {
		return math.Inf(1)
	}
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	logDet, sign := mat.LogDet(&xtx)
	if sign <= 0 {
		return math.Inf(1)
	}
	logV := 0.0
	for _, ng := range gi.sizes {
		logV += math.Log1p(ng * gamma)
	}
	return float64(d.rows()-d.cols())*math.Log(rss) + logV + logDet
}

// startingRatio estimates gamma from the spread of group means of the response
func (gi groupIndex) startingRatio(d *design) float64 {
	byGroup := make([]stats.Float64Data, len(gi.sizes))
	for r, g := range gi.of {
		byGroup[g] = append(byGroup[g], d.y[r])
	}
	var groupMeans, within stats.Float64Data
	for _, vals := range byGroup {
		m, err := stats.Mean(vals)
		if err != nil {
			continue
		}
		groupMeans = append(groupMeans, m)
		for _, v := range vals {
			within = append(within, v-m)
		}
	}
	between, err1 := stats.SampleVariance(groupMeans)
	resid, err2 := stats.Variance(within)
	if err1 != nil || err2 != nil || resid <= 0 || math.IsNaN(between) {
		return 0.1
	}
	return math.Max(between/resid, 0.01)
}

func (s *Mixed) Fit(ctx context.Context, bundle *dataset.MatrixBundle, f regression.Formula) (*regression.ModelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := buildDesign(bundle, f, s.GroupColumn)
	if err != nil {
		return nil, core.NewModelFitError(f.String(), err)
	}
	gi := indexGroups(d.groups)
	if len(gi.sizes) < 2 {
		return nil, core.NewModelFitError(f.String(), fmt.Errorf("%w: %d group(s) in %q", core.ErrInsufficientRows, len(gi.sizes), s.GroupColumn))
	}
	if _, _, _, err := leastSquares(d.x, d.y); err != nil {
		return nil, core.NewModelFitError(f.String(), core.ErrSingularDesign)
	}

	cancelled := false
	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			if ctx.Err() != nil {
				cancelled = true
				return math.Inf(1)
			}
			return gi.reml(d, theta[0]*theta[0])
		},
	}
	settings := &optimize.Settings{
		MajorIterations: s.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 20,
		},
	}
	result, err := optimize.Minimize(problem, []float64{math.Sqrt(gi.startingRatio(d))}, settings, &optimize.NelderMead{})
	if cancelled {
		return nil, ctx.Err()
	}
	if err != nil || result == nil || math.IsInf(result.F, 0) || math.IsNaN(result.F) {
		return nil, core.NewModelFitError(f.String(), core.ErrNoConvergence)
	}

	gamma := result.X[0] * result.X[0]
	x, y := gi.whiten(d, gamma)
	beta, rss, inv, err := leastSquares(x, y)
	if err != nil {
		return nil, core.NewModelFitError(f.String(), core.ErrSingularDesign)
	}

	res := regression.NewModelResult(d.rows())
	res.Converged = result.Status != optimize.IterationLimit
	sigma2 := rss / float64(d.rows()-d.cols())
	fillEstimates(res, d.names, beta, inv, sigma2, distuv.UnitNormal, s.Alpha)
	return res, nil
}
