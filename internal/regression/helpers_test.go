package regression

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goregress/domain/core"
	"goregress/domain/dataset"
	"goregress/domain/regression"
)

// fakeRunner answers fits from a p-value lookup keyed by element and predictor.
type fakeRunner struct {
	mu        sync.Mutex
	pvals     map[string]map[string]float64
	intercept float64
	fail      map[string]error // keyed by formula string
	calls     []string
	fitFunc   func(ctx context.Context, f regression.Formula) (*regression.ModelResult, error)
}

func newFakeRunner(pvals map[string]map[string]float64) *fakeRunner {
	return &fakeRunner{pvals: pvals, intercept: 2.5, fail: map[string]error{}}
}

func (r *fakeRunner) Kind() regression.ModelKind { return regression.ModelLinear }

func (r *fakeRunner) Fit(ctx context.Context, _ *dataset.MatrixBundle, f regression.Formula) (*regression.ModelResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, f.String())
	err := r.fail[f.String()]
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if r.fitFunc != nil {
		return r.fitFunc(ctx, f)
	}
	res := regression.NewModelResult(10)
	if f.Intercept {
		res.Intercept = r.intercept
	}
	for k, p := range f.Term {
		pv := 0.5
		if byPred, ok := r.pvals[f.Response]; ok {
			if v, ok := byPred[p]; ok {
				pv = v
			}
		}
		coef := float64(k + 1)
		res.Estimates[p] = regression.Estimate{Coefficient: coef, CILow: coef - 1, CIHigh: coef + 1, PValue: pv}
	}
	return res, nil
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// recordingSink keeps every stage handed to it
type recordingSink struct {
	stages []*regression.StageOutput
	failOn regression.StageName
}

func (s *recordingSink) WriteStage(_ context.Context, out *regression.StageOutput) error {
	if out.Stage == s.failOn {
		return fmt.Errorf("disk full")
	}
	s.stages = append(s.stages, out)
	return nil
}

// buildBundle creates a bundle with the given elements and predictors over n samples
func buildBundle(t *testing.T, elements, predictors []string, n int) *dataset.MatrixBundle {
	t.Helper()
	samples := make([]string, n)
	for i := range samples {
		samples[i] = fmt.Sprintf("S%d", i+1)
	}
	b := dataset.NewMatrixBundle(samples)
	for c, name := range elements {
		require.NoError(t, b.AddColumn(name, dataset.RoleElement, column(n, float64(c))))
	}
	for c, name := range predictors {
		require.NoError(t, b.AddColumn(name, dataset.RolePredictor, column(n, float64(c+10))))
	}
	return b
}

func column(n int, offset float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = offset + float64(i*i%7)
	}
	return out
}

func testConfig() Config {
	return Config{
		Model:        regression.ModelLinear,
		Multivariate: true,
		Correct:      false,
		Threshold:    0.05,
		Workers:      4,
	}
}

func tableFrom(rows, cols []string, values [][]float64) *regression.Table {
	t := regression.NewTable(rows, cols)
	for i := range values {
		copy(t.Values[i], values[i])
	}
	return t
}

var testRunID = core.RunID("0191d6a4-1c2b-7000-8000-000000000001")
