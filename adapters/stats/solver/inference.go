package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"goregress/domain/regression"
)

// referenceDist is the sampling distribution of the Wald statistic:
// Student's t for OLS, standard normal for the mixed model.
type referenceDist interface {
	CDF(x float64) float64
	Quantile(p float64) float64
}

// leastSquares solves x*beta = y by QR and returns beta, the residual sum of
// squares and (x'x)^-1.
func leastSquares(x *mat.Dense, y []float64) (*mat.VecDense, float64, *mat.Dense, error) {
	yv := mat.NewVecDense(len(y), y)

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, yv); err != nil {
		return nil, 0, nil, err
	}

	var xtx, inv mat.Dense
	xtx.Mul(x.T(), x)
	if err := inv.Inverse(&xtx); err != nil {
		return nil, 0, nil, err
	}

	var fitted, resid mat.VecDense
	fitted.MulVec(x, &beta)
	resid.SubVec(yv, &fitted)
	rss := mat.Dot(&resid, &resid)
	return &beta, rss, &inv, nil
}

// fillEstimates converts coefficients and their covariance scale into the
// per-predictor estimates of res. sigma2 scales the unscaled covariance.
func fillEstimates(res *regression.ModelResult, names []string, beta *mat.VecDense, unscaled *mat.Dense, sigma2 float64, dist referenceDist, alpha float64) {
	crit := dist.Quantile(1 - alpha/2)
	for j, name := range names {
		b := beta.AtVec(j)
		if name == interceptColumn {
			res.Intercept = b
			continue
		}
		se := math.Sqrt(math.Max(sigma2*unscaled.At(j, j), 0))
		res.Estimates[name] = regression.Estimate{
			Coefficient: b,
			CILow:       b - crit*se,
			CIHigh:      b + crit*se,
			PValue:      twoSidedP(b, se, dist),
		}
	}
}

func twoSidedP(b, se float64, dist referenceDist) float64 {
	if se == 0 {
		if b == 0 {
			return 1
		}
		return 0
	}
	p := 2 * (1 - dist.CDF(math.Abs(b/se)))
	return math.Min(math.Max(p, 0), 1)
}
