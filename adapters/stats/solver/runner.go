// Package solver implements the model runners behind ports.ModelRunner:
// ordinary least squares and a random-intercept linear mixed model, both on
// complete cases of the merged sample matrix.
package solver

import (
	"goregress/domain/core"
	"goregress/domain/regression"
	"goregress/ports"
)

// Options configures NewRunner
type Options struct {
	Alpha         float64 // 1 - confidence level, default 0.05
	RandomEffect  string  // grouping column, linear_me only
	MaxIterations int     // REML optimizer iterations
}

// NewRunner returns the solver for kind
func NewRunner(kind regression.ModelKind, opts Options) (ports.ModelRunner, error) {
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		opts.Alpha = 0.05
	}
	switch kind {
	case regression.ModelLinear:
		return NewOLS(opts.Alpha), nil
	case regression.ModelLinearME:
		if opts.RandomEffect == "" {
			return nil, core.NewConfigError("predictor_random_effect", "required by model linear_me")
		}
		return NewMixed(opts.RandomEffect, opts.Alpha, opts.MaxIterations), nil
	}
	_, err := regression.ParseModelKind(string(kind))
	return nil, err
}
