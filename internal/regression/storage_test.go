package regression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goregress/domain/core"
	"goregress/domain/regression"
)

func fitted(intercept float64, est map[string]regression.Estimate) *regression.ModelResult {
	res := regression.NewModelResult(20)
	res.Intercept = intercept
	for k, v := range est {
		res.Estimates[k] = v
	}
	return res
}

func TestStorageInitAllNA(t *testing.T) {
	s := NewStorage([]string{"E1", "E2"}, []string{"P1", "P2", "P3"})
	ts := s.Tables()

	assert.Equal(t, regression.FittedStatistics, ts.Statistics())
	for _, st := range regression.FittedStatistics {
		r, c := ts[st].Shape()
		assert.Equal(t, 2, r)
		assert.Equal(t, 3, c)
		assert.Equal(t, 6, ts[st].CountNA())
	}
}

func TestStorageFill(t *testing.T) {
	s := NewStorage([]string{"E1"}, []string{"P1", "P2", "P3"})
	res := fitted(4.2, map[string]regression.Estimate{
		"P1": {Coefficient: 1.5, CILow: 1, CIHigh: 2, PValue: 0.01},
		"P3": {Coefficient: -0.5, CILow: -1, CIHigh: 0, PValue: 0.2},
	})

	require.NoError(t, s.Fill("E1", regression.Term{"P1", "P3"}, regression.SuffixIntercept, res))
	ts := s.Tables()

	v, _ := ts[regression.StatCoeff].Get("E1", "P1")
	assert.Equal(t, 1.5, v)
	v, _ = ts[regression.StatPValue].Get("E1", "P3")
	assert.Equal(t, 0.2, v)
	v, _ = ts[regression.StatIntercept].Get("E1", "P3")
	assert.Equal(t, 4.2, v)
	v, _ = ts[regression.StatHighCI].Get("E1", "P2")
	assert.True(t, regression.IsNA(v), "untouched predictor stays NA")

	// identical NA layout across the four per-predictor statistics
	mask := ts[regression.StatCoeff].NAMask()
	for _, st := range []regression.Statistic{regression.StatLowCI, regression.StatHighCI, regression.StatPValue} {
		assert.Equal(t, mask, ts[st].NAMask(), st)
	}
}

func TestStorageZeroInterceptStoresZero(t *testing.T) {
	s := NewStorage([]string{"E1"}, []string{"age_decades"})
	res := fitted(9.9, map[string]regression.Estimate{"age_decades": {Coefficient: 1, PValue: 0.3}})

	require.NoError(t, s.Fill("E1", regression.Term{"age_decades"}, regression.SuffixZeroIntercept, res))
	v, _ := s.Tables()[regression.StatIntercept].Get("E1", "age_decades")
	assert.Equal(t, 0.0, v)
}

func TestStorageWriteOnce(t *testing.T) {
	s := NewStorage([]string{"E1"}, []string{"P1", "P2"})
	res := fitted(1, map[string]regression.Estimate{"P1": {PValue: 0.1}, "P2": {PValue: 0.2}})

	require.NoError(t, s.Fill("E1", regression.Term{"P1"}, regression.SuffixIntercept, res))
	err := s.Fill("E1", regression.Term{"P2", "P1"}, regression.SuffixIntercept, res)
	assert.True(t, errors.Is(err, core.ErrCellWritten))

	// the rejected fill wrote nothing
	v, _ := s.Tables()[regression.StatPValue].Get("E1", "P2")
	assert.True(t, regression.IsNA(v))
}

func TestStorageFillErrors(t *testing.T) {
	s := NewStorage([]string{"E1"}, []string{"P1"})
	res := fitted(1, map[string]regression.Estimate{"P1": {PValue: 0.1}})

	assert.True(t, core.IsInputShapeError(s.Fill("E9", regression.Term{"P1"}, regression.SuffixIntercept, res)))
	assert.True(t, core.IsInputShapeError(s.Fill("E1", regression.Term{"P9"}, regression.SuffixIntercept, res)))
	assert.True(t, core.IsModelFitError(s.Fill("E1", regression.Term{"P1"}, regression.SuffixIntercept, regression.NewModelResult(3))))
	assert.Error(t, s.Fill("E1", regression.Term{"P1"}, regression.SuffixIntercept, nil))
}

func TestStorageRevertIncludesQValues(t *testing.T) {
	s := NewStorage([]string{"E1"}, []string{"P1", "P2"})
	res := fitted(1, map[string]regression.Estimate{"P1": {PValue: 0.01}, "P2": {PValue: 0.02}})
	require.NoError(t, s.Fill("E1", regression.Term{"P1", "P2"}, regression.SuffixIntercept, res))
	q, err := CorrectBH(s.Tables()[regression.StatPValue])
	require.NoError(t, err)
	s.SetCorrected(q)

	assert.Equal(t, 1, s.Revert("E1", []string{"P2"}))
	for _, st := range regression.AllStatistics {
		v, ok := s.Tables()[st].Get("E1", "P2")
		require.True(t, ok)
		assert.True(t, regression.IsNA(v), st)
		v, _ = s.Tables()[st].Get("E1", "P1")
		assert.False(t, regression.IsNA(v), st)
	}
}

func TestStorageReinitIsIndependent(t *testing.T) {
	first := NewStorage([]string{"E1"}, []string{"P1"})
	res := fitted(1, map[string]regression.Estimate{"P1": {PValue: 0.01}})
	require.NoError(t, first.Fill("E1", regression.Term{"P1"}, regression.SuffixIntercept, res))

	second := NewStorage([]string{"E1"}, []string{"P1"})
	v, _ := second.Tables()[regression.StatPValue].Get("E1", "P1")
	assert.True(t, regression.IsNA(v))
	assert.NoError(t, second.Fill("E1", regression.Term{"P1"}, regression.SuffixIntercept, res))
}
