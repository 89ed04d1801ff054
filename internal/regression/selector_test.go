package regression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goregress/domain/core"
	"goregress/domain/regression"
)

func uniTables(rows, cols []string, pval [][]float64) regression.TableSet {
	ts := regression.NewTableSet(rows, cols)
	ts[regression.StatPValue] = tableFrom(rows, cols, pval)
	return ts
}

func TestSelectPredictorsNoElementWithSinglePredictor(t *testing.T) {
	na := regression.NA
	// three elements, P1 significant for E1 and E2 only
	ts := uniTables([]string{"E1", "E2", "E3"}, []string{"P1", "P2"}, [][]float64{
		{0.01, 0.3},
		{0.01, na},
		{0.2, 0.7},
	})

	sel, err := SelectPredictors(ts, 0.05, nil)
	require.NoError(t, err)
	assert.Empty(t, sel)
}

func TestSelectPredictorsForcedRule(t *testing.T) {
	ts := uniTables([]string{"E1", "E2"}, []string{"P1", "P2", "P3"}, [][]float64{
		{0.01, 0.5, 0.6},
		{0.01, 0.02, 0.6},
	})

	sel, err := SelectPredictors(ts, 0.05, []regression.ForcedRule{{"P1", "P2"}})
	require.NoError(t, err)
	require.Len(t, sel, 2)

	assert.Equal(t, "E1", sel[0].Element)
	assert.Equal(t, "P1+P2", sel[0].Term.String())
	assert.Equal(t, []string{"P2"}, sel[0].Forced)

	// already significant: no duplicates, nothing forced
	assert.Equal(t, "P1+P2", sel[1].Term.String())
	assert.Empty(t, sel[1].Forced)
}

func TestSelectPredictorsForcedRulesAreNotTransitive(t *testing.T) {
	ts := uniTables([]string{"E1"}, []string{"P1", "P2", "P3"}, [][]float64{{0.01, 0.5, 0.5}})

	sel, err := SelectPredictors(ts, 0.05, []regression.ForcedRule{{"P1", "P2"}, {"P2", "P3"}})
	require.NoError(t, err)
	require.Len(t, sel, 1)
	assert.Equal(t, "P1+P2", sel[0].Term.String())
}

func TestSelectPredictorsPrefersQValues(t *testing.T) {
	rows, cols := []string{"E1"}, []string{"P1", "P2"}
	ts := uniTables(rows, cols, [][]float64{{0.01, 0.02}})
	ts[regression.StatQValue] = tableFrom(rows, cols, [][]float64{{0.04, 0.06}})

	sel, err := SelectPredictors(ts, 0.05, nil)
	require.NoError(t, err)
	assert.Empty(t, sel, "q-value 0.06 excludes P2 even though its p-value passes")

	ts[regression.StatQValue] = tableFrom(rows, cols, [][]float64{{0.04, 0.03}})
	sel, err = SelectPredictors(ts, 0.05, nil)
	require.NoError(t, err)
	require.Len(t, sel, 1)
	assert.Equal(t, "P1+P2", sel[0].Term.String())
}

func TestSelectPredictorsThresholdIsExclusive(t *testing.T) {
	ts := uniTables([]string{"E1"}, []string{"P1", "P2"}, [][]float64{{0.05, 0.01}})

	sel, err := SelectPredictors(ts, 0.05, nil)
	require.NoError(t, err)
	assert.Empty(t, sel)
}

func TestSelectPredictorsTermFollowsColumnOrder(t *testing.T) {
	ts := uniTables([]string{"E1"}, []string{"P3", "P1", "P2"}, [][]float64{{0.01, 0.5, 0.01}})

	sel, err := SelectPredictors(ts, 0.05, []regression.ForcedRule{{"P1", "P2"}})
	require.NoError(t, err)
	require.Len(t, sel, 1)
	assert.Equal(t, regression.Term{"P3", "P1", "P2"}, sel[0].Term)
	assert.Equal(t, []string{"P1"}, sel[0].Forced)
}

func TestSelectPredictorsErrors(t *testing.T) {
	_, err := SelectPredictors(regression.TableSet{}, 0.05, nil)
	assert.True(t, errors.Is(err, core.ErrEmptyTable))

	_, err = SelectPredictors(uniTables(nil, []string{"P1"}, nil), 0.05, nil)
	assert.True(t, errors.Is(err, core.ErrEmptyTable))

	ts := uniTables([]string{"E1"}, []string{"P1"}, [][]float64{{0.01}})
	_, err = SelectPredictors(ts, 0.05, []regression.ForcedRule{{"P1", "nope"}})
	assert.True(t, core.IsConfigError(err))
}
