package regression

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goregress/domain/core"
	"goregress/domain/regression"
)

func TestCorrectBHKnownValues(t *testing.T) {
	na := regression.NA
	pval := tableFrom(
		[]string{"E1", "E2"},
		[]string{"P1", "P2", "P3"},
		[][]float64{
			{0.01, 0.04, na},
			{0.03, 0.005, na},
		},
	)

	q, err := CorrectBH(pval)
	require.NoError(t, err)

	// sorted: 0.005, 0.01, 0.03, 0.04 with m = 4
	// raw: 0.02, 0.02, 0.04, 0.04 -> step-up minimum leaves them unchanged
	expected := [][]float64{
		{0.02, 0.04, na},
		{0.04, 0.02, na},
	}
	for i := range expected {
		for j := range expected[i] {
			if regression.IsNA(expected[i][j]) {
				assert.True(t, regression.IsNA(q.Values[i][j]), "NA preserved at %d,%d", i, j)
				continue
			}
			assert.InDelta(t, expected[i][j], q.Values[i][j], 1e-12)
		}
	}
	assert.Equal(t, pval.Rows, q.Rows)
	assert.Equal(t, pval.Cols, q.Cols)
}

func TestCorrectBHStepUpAndClip(t *testing.T) {
	pval := tableFrom([]string{"E1"}, []string{"P1", "P2", "P3"}, [][]float64{{0.9, 0.04, 0.041}})
	q, err := CorrectBH(pval)
	require.NoError(t, err)

	// raw: 0.04*3/1=0.12, 0.041*3/2=0.0615, 0.9*3/3=0.9 -> monotone: 0.0615, 0.0615, 0.9
	assert.InDelta(t, 0.9, q.Values[0][0], 1e-12)
	assert.InDelta(t, 0.0615, q.Values[0][1], 1e-12)
	assert.InDelta(t, 0.0615, q.Values[0][2], 1e-12)

	clipped, err := CorrectBH(tableFrom([]string{"E1"}, []string{"P1", "P2"}, [][]float64{{1, 1}}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, clipped.Values[0][0])
}

func TestCorrectBHOrderInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rows := []string{"E1", "E2", "E3", "E4"}
	cols := []string{"P1", "P2", "P3"}
	pval := regression.NewTable(rows, cols)
	for i := range rows {
		for j := range cols {
			if rng.Float64() < 0.2 {
				continue
			}
			pval.Values[i][j] = float64(rng.Intn(20)) / 40 // ties included
		}
	}

	q, err := CorrectBH(pval)
	require.NoError(t, err)

	for trial := 0; trial < 5; trial++ {
		pr := append([]string(nil), rows...)
		pc := append([]string(nil), cols...)
		rng.Shuffle(len(pr), func(a, b int) { pr[a], pr[b] = pr[b], pr[a] })
		rng.Shuffle(len(pc), func(a, b int) { pc[a], pc[b] = pc[b], pc[a] })

		shuffled := regression.NewTable(pr, pc)
		for _, r := range pr {
			for _, c := range pc {
				v, _ := pval.Get(r, c)
				require.NoError(t, shuffled.Set(r, c, v))
			}
		}
		qs, err := CorrectBH(shuffled)
		require.NoError(t, err)

		for _, r := range rows {
			for _, c := range cols {
				want, _ := q.Get(r, c)
				got, _ := qs.Get(r, c)
				if regression.IsNA(want) {
					assert.True(t, regression.IsNA(got))
					continue
				}
				assert.InDelta(t, want, got, 1e-12, "%s/%s", r, c)
			}
		}
	}
}

func TestCorrectBHEmpty(t *testing.T) {
	_, err := CorrectBH(regression.NewTable(nil, []string{"P1"}))
	assert.True(t, errors.Is(err, core.ErrEmptyTable))

	_, err = CorrectBH(nil)
	assert.True(t, errors.Is(err, core.ErrEmptyTable))

	allNA, err := CorrectBH(regression.NewTable([]string{"E1"}, []string{"P1"}))
	require.NoError(t, err)
	assert.Equal(t, 1, allNA.CountNA())
}
