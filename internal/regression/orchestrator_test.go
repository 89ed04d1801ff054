package regression

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goregress/domain/core"
	"goregress/domain/dataset"
	"goregress/domain/regression"
	"goregress/internal"
	apperrors "goregress/internal/errors"
	"goregress/ports"
)

type countingObserver struct {
	fits     map[string]int
	retained int
}

func (c *countingObserver) ObserveFit(_ regression.StageName, outcome string, _ time.Duration) {
	c.fits[outcome]++
}

func (c *countingObserver) ObserveSelection(n int) { c.retained = n }

func newTestOrchestrator(cfg Config, runner *fakeRunner, sink ports.StageSink, opts ...Option) *Orchestrator {
	opts = append([]Option{WithLogger(internal.NewNopLogger())}, opts...)
	return NewOrchestrator(cfg, runner, sink, opts...)
}

func TestOrchestratorNoElementRetained(t *testing.T) {
	bundle := buildBundle(t, []string{"E1", "E2", "E3"}, []string{"P1", "P2"}, 8)
	runner := newFakeRunner(map[string]map[string]float64{
		"E1": {"P1": 0.01},
		"E2": {"P1": 0.01},
	})
	sink := &recordingSink{}
	obs := &countingObserver{fits: map[string]int{}}

	res, err := newTestOrchestrator(testConfig(), runner, sink, WithObserver(obs)).Run(context.Background(), testRunID, "m", bundle)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Len(t, runner.Calls(), 6, "no multivariate fits")
	assert.Equal(t, 6, obs.fits["ok"])
	assert.Equal(t, 0, obs.retained)

	require.Len(t, sink.stages, 2)
	multi := sink.stages[1]
	assert.Equal(t, regression.StageMultivariate, multi.Stage)
	for _, st := range multi.Tables.Statistics() {
		assert.Equal(t, 0, multi.Tables[st].Len())
	}
}

func TestOrchestratorForcedPredictorReverted(t *testing.T) {
	bundle := buildBundle(t, []string{"E1", "E2"}, []string{"P1", "P2", "P3"}, 8)
	runner := newFakeRunner(map[string]map[string]float64{
		"E1": {"P1": 0.01},
		"E2": {"P2": 0.001, "P3": 0.002},
	})
	cfg := testConfig()
	cfg.Forced = []regression.ForcedRule{{"P1", "P2"}}
	cfg.Correct = true
	sink := &recordingSink{}

	res, err := newTestOrchestrator(cfg, runner, sink).Run(context.Background(), testRunID, "m", bundle)
	require.NoError(t, err)
	require.NotNil(t, res.Multivariate)

	assert.Contains(t, runner.Calls(), "E1 ~ P1+P2 + 1", "the fit used the forced predictor")
	sel := res.Multivariate.Selections
	require.Len(t, sel, 2)
	assert.Equal(t, []string{"P2"}, sel[0].Forced)
	// E2 is significant for P2 and P3, so the same rule forces P1 there
	assert.Equal(t, []string{"P1"}, sel[1].Forced)
	assert.Equal(t, 2, res.Multivariate.Report.ForcedCells)

	tables := res.Multivariate.Tables
	require.Contains(t, tables, regression.StatQValue)
	for _, st := range regression.AllStatistics {
		v, ok := tables[st].Get("E1", "P2")
		require.True(t, ok)
		assert.True(t, regression.IsNA(v), "E1/P2 must be NA in %s", st)
		v, _ = tables[st].Get("E1", "P1")
		assert.False(t, regression.IsNA(v), "E1/P1 kept in %s", st)
	}
	// P2 is independently significant for E2 and stays
	v, _ := tables[regression.StatCoeff].Get("E2", "P2")
	assert.False(t, regression.IsNA(v))
}

func TestOrchestratorZeroIntercept(t *testing.T) {
	bundle := buildBundle(t, []string{"E1"}, []string{"age_decades", "sex"}, 8)
	runner := newFakeRunner(nil)
	cfg := testConfig()
	cfg.Multivariate = false
	cfg.ZeroIntercept = regression.ZeroInterceptRule{"age"}

	res, err := newTestOrchestrator(cfg, runner, nil).Run(context.Background(), testRunID, "m", bundle)
	require.NoError(t, err)
	assert.Contains(t, runner.Calls(), "E1 ~ age_decades - 1")
	assert.Contains(t, runner.Calls(), "E1 ~ sex + 1")

	icpt := res.Univariate.Tables[regression.StatIntercept]
	v, _ := icpt.Get("E1", "age_decades")
	assert.Equal(t, 0.0, v)
	v, _ = icpt.Get("E1", "sex")
	assert.Equal(t, 2.5, v)
	assert.Nil(t, res.Multivariate)
}

func TestOrchestratorUsesQValuesForSelection(t *testing.T) {
	bundle := buildBundle(t, []string{"E1", "E2", "E3", "E4"}, []string{"P1", "P2"}, 8)
	// E1 passes on raw p-values but not after correction over 8 cells
	runner := newFakeRunner(map[string]map[string]float64{
		"E1": {"P1": 0.04, "P2": 0.045},
		"E2": {"P1": 0.001, "P2": 0.002},
	})
	cfg := testConfig()
	cfg.Correct = true

	res, err := newTestOrchestrator(cfg, runner, &recordingSink{}).Run(context.Background(), testRunID, "m", bundle)
	require.NoError(t, err)

	require.Contains(t, res.Univariate.Tables, regression.StatQValue)
	require.Len(t, res.Multivariate.Selections, 1)
	assert.Equal(t, "E2", res.Multivariate.Selections[0].Element)
}

func TestOrchestratorFitFailuresAreIsolated(t *testing.T) {
	bundle := buildBundle(t, []string{"E1", "E2"}, []string{"P1", "P2"}, 8)
	runner := newFakeRunner(map[string]map[string]float64{
		"E1": {"P1": 0.01, "P2": 0.01},
		"E2": {"P1": 0.01, "P2": 0.01},
	})
	runner.fail["E1 ~ P2 + 1"] = core.NewModelFitError("E1 ~ P2 + 1", core.ErrSingularDesign)
	runner.fail["E2 ~ P1 + 1"] = errors.New("unexpected solver error")
	cfg := testConfig()

	res, err := newTestOrchestrator(cfg, runner, &recordingSink{}).Run(context.Background(), testRunID, "m", bundle)
	require.NoError(t, err)

	report := res.Univariate.Report
	assert.Equal(t, 4, report.Planned)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 2, report.SkipsByReason[regression.SkipModelFit])

	v, _ := res.Univariate.Tables[regression.StatPValue].Get("E1", "P2")
	assert.True(t, regression.IsNA(v))
	v, _ = res.Univariate.Tables[regression.StatPValue].Get("E1", "P1")
	assert.Equal(t, 0.01, v)

	// every element now has a single significant predictor
	assert.Empty(t, res.Multivariate.Selections)
}

func TestOrchestratorMissingPredictorStaysNA(t *testing.T) {
	bundle := buildBundle(t, []string{"E1", "E2"}, []string{"P1"}, 8)
	runner := newFakeRunner(map[string]map[string]float64{
		"E1": {"P1": 0.01},
		"E2": {"P1": 0.4},
	})
	cfg := testConfig()
	cfg.Predictors = []string{"P1", "P2"}
	cfg.Forced = []regression.ForcedRule{{"P1", "P2"}}
	cfg.Correct = true
	sink := &recordingSink{}

	res, err := newTestOrchestrator(cfg, runner, sink).Run(context.Background(), testRunID, "m", bundle)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.ElementsMatch(t, []string{"E1 ~ P1 + 1", "E2 ~ P1 + 1"}, runner.Calls())

	uni := res.Univariate
	assert.Equal(t, 4, uni.Report.Planned)
	assert.Equal(t, 2, uni.Report.SkipsByReason[regression.SkipInputShape])
	for _, st := range uni.Tables.Statistics() {
		table := uni.Tables[st]
		assert.Equal(t, []string{"P1", "P2"}, table.Cols, "column kept for %s", st)
		for _, e := range []string{"E1", "E2"} {
			v, ok := table.Get(e, "P2")
			require.True(t, ok)
			assert.True(t, regression.IsNA(v), "%s %s/P2", st, e)
		}
	}
	v, _ := uni.Tables[regression.StatPValue].Get("E1", "P1")
	assert.Equal(t, 0.01, v)

	// E1 is retained and forced onto P2, which the matrix lacks
	require.NotNil(t, res.Multivariate)
	require.Len(t, res.Multivariate.Selections, 1)
	assert.Equal(t, 1, res.Multivariate.Report.SkipsByReason[regression.SkipInputShape])
	require.Len(t, sink.stages, 2)
}

func TestOrchestratorFitTimeout(t *testing.T) {
	bundle := buildBundle(t, []string{"E1"}, []string{"P1", "P2"}, 8)
	runner := newFakeRunner(nil)
	runner.fitFunc = func(ctx context.Context, f regression.Formula) (*regression.ModelResult, error) {
		if f.Term.String() == "P2" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		res := regression.NewModelResult(8)
		res.Estimates["P1"] = regression.Estimate{PValue: 0.3}
		return res, nil
	}
	cfg := testConfig()
	cfg.Multivariate = false
	cfg.FitTimeout = 20 * time.Millisecond

	res, err := newTestOrchestrator(cfg, runner, nil).Run(context.Background(), testRunID, "m", bundle)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Univariate.Report.SkipsByReason[regression.SkipTimeout])
	assert.Equal(t, 1, res.Univariate.Report.Succeeded)
}

func TestOrchestratorSolverPanicIsRecovered(t *testing.T) {
	bundle := buildBundle(t, []string{"E1"}, []string{"P1"}, 8)
	runner := newFakeRunner(nil)
	runner.fitFunc = func(context.Context, regression.Formula) (*regression.ModelResult, error) {
		panic("index out of range")
	}
	cfg := testConfig()
	cfg.Multivariate = false

	res, err := newTestOrchestrator(cfg, runner, nil).Run(context.Background(), testRunID, "m", bundle)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Univariate.Report.Failed)
}

func TestOrchestratorConfigErrors(t *testing.T) {
	bundle := buildBundle(t, []string{"E1"}, []string{"P1", "P2"}, 8)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown model", func(c *Config) { c.Model = "poisson" }},
		{"mixed without group", func(c *Config) { c.Model = regression.ModelLinearME }},
		{"mixed with unknown group", func(c *Config) { c.Model = regression.ModelLinearME; c.RandomEffect = "batch" }},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }},
		{"forced unknown predictor", func(c *Config) { c.Forced = []regression.ForcedRule{{"P1", "P9"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			runner := newFakeRunner(nil)

			res, err := newTestOrchestrator(cfg, runner, nil).Run(context.Background(), testRunID, "m", bundle)
			assert.True(t, core.IsConfigError(err), "got %v", err)
			assert.Equal(t, StateInit, res.State)
			assert.Empty(t, runner.Calls(), "no fit before config validation")
		})
	}
}

func TestOrchestratorUnivariatePersistedWhenMultivariateFails(t *testing.T) {
	bundle := buildBundle(t, []string{"E1"}, []string{"P1", "P2"}, 8)
	runner := newFakeRunner(map[string]map[string]float64{"E1": {"P1": 0.01, "P2": 0.01}})
	sink := &recordingSink{failOn: regression.StageMultivariate}

	res, err := newTestOrchestrator(testConfig(), runner, sink).Run(context.Background(), testRunID, "m", bundle)
	require.Error(t, err)
	require.Len(t, sink.stages, 1)
	assert.Equal(t, regression.StageUnivariate, sink.stages[0].Stage)
	assert.NotNil(t, res.Univariate)
}

func TestOrchestratorUnivariateCorrectionFailureKeepsTables(t *testing.T) {
	samples := []string{"S1", "S2", "S3"}
	bundle := dataset.NewMatrixBundle(samples)
	require.NoError(t, bundle.AddColumn("P1", dataset.RolePredictor, []float64{1, 2, 3}))
	cfg := testConfig()
	cfg.Correct = true
	sink := &recordingSink{}

	res, err := newTestOrchestrator(cfg, newFakeRunner(nil), sink).Run(context.Background(), testRunID, "m", bundle)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStageFailed, apperrors.GetCode(err))
	assert.True(t, errors.Is(err, core.ErrEmptyTable))
	assert.Equal(t, StateDone, res.State)
	require.Len(t, sink.stages, 1, "univariate tables are still emitted")
}

func TestOrchestratorBoundedConcurrency(t *testing.T) {
	bundle := buildBundle(t, []string{"E1", "E2", "E3", "E4"}, []string{"P1", "P2", "P3"}, 8)
	var inFlight, peak int32
	runner := newFakeRunner(nil)
	runner.fitFunc = func(_ context.Context, f regression.Formula) (*regression.ModelResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		res := regression.NewModelResult(8)
		for _, p := range f.Term {
			res.Estimates[p] = regression.Estimate{PValue: 0.9}
		}
		return res, nil
	}
	cfg := testConfig()
	cfg.Workers = 2

	res, err := newTestOrchestrator(cfg, runner, nil).Run(context.Background(), testRunID, "m", bundle)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Univariate.Report.Succeeded)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestOrchestratorCancelledContext(t *testing.T) {
	bundle := buildBundle(t, []string{"E1"}, []string{"P1"}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestOrchestrator(testConfig(), newFakeRunner(nil), nil).Run(ctx, testRunID, "m", bundle)
	assert.ErrorIs(t, err, context.Canceled)
}
