package ports

import (
	"context"

	"goregress/domain/dataset"
	"goregress/domain/regression"
)

// ModelRunner fits one formula against the merged matrix.
// Implementations return errors wrapping core.ErrModelFit when the solver
// cannot produce estimates.
type ModelRunner interface {
	Kind() regression.ModelKind
	Fit(ctx context.Context, bundle *dataset.MatrixBundle, formula regression.Formula) (*regression.ModelResult, error)
}
