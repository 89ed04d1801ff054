package regression

import (
	"context"
	"fmt"
	"time"

	"goregress/domain/core"
	"goregress/domain/dataset"
	"goregress/domain/regression"
	"goregress/internal"
	apperrors "goregress/internal/errors"
	"goregress/ports"
)

// State of the orchestrator's two-stage run
type State int

const (
	StateInit State = iota
	StateUnivariate
	StateMultivariate
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateUnivariate:
		return "UNIVARIATE"
	case StateMultivariate:
		return "MULTIVARIATE"
	case StateDone:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config is the fully merged per-metric run configuration
type Config struct {
	Model         regression.ModelKind
	Predictors    []string // configured list; empty means every predictor column in the bundle
	RandomEffect  string
	ZeroIntercept regression.ZeroInterceptRule
	Multivariate  bool
	Forced        []regression.ForcedRule
	Correct       bool
	Threshold     float64
	Workers       int
	FitTimeout    time.Duration
}

// Validate rejects configurations that cannot run against bundle
func (c Config) Validate(bundle *dataset.MatrixBundle) error {
	if _, err := regression.ParseModelKind(string(c.Model)); err != nil {
		return err
	}
	_, hasGroup := bundle.GroupLabels(c.RandomEffect)
	switch {
	case c.Model == regression.ModelLinearME && c.RandomEffect == "":
		return core.NewConfigError("predictor_random_effect", "required by model linear_me")
	case c.Model == regression.ModelLinearME && !hasGroup:
		return core.NewConfigError("predictor_random_effect", fmt.Sprintf("group column %q not in input", c.RandomEffect))
	case c.Threshold <= 0 || c.Threshold > 1:
		return core.NewConfigError("significance_threshold", fmt.Sprintf("%v not in (0, 1]", c.Threshold))
	case c.FitTimeout < 0:
		return core.NewConfigError("fit_timeout", "must not be negative")
	}
	predictors := c.predictorList(bundle)
	if len(predictors) == 0 {
		return core.NewConfigError("predictors", "no predictor columns in input")
	}
	if c.Multivariate {
		known := make(map[string]bool, len(predictors))
		for _, p := range predictors {
			known[p] = true
		}
		for _, rule := range c.Forced {
			for _, p := range rule {
				if !known[p] {
					return core.NewConfigError("predictors_multi_force", fmt.Sprintf("unknown predictor %q", p))
				}
			}
		}
	}
	return nil
}

// predictorList is the table column set. Configured predictors absent from
// the bundle keep their columns; their fits are skipped as input shape errors.
func (c Config) predictorList(bundle *dataset.MatrixBundle) []string {
	if len(c.Predictors) > 0 {
		return c.Predictors
	}
	return bundle.Predictors()
}

// FitObserver receives per-fit and per-stage measurements
type FitObserver interface {
	ObserveFit(stage regression.StageName, outcome string, elapsed time.Duration)
	ObserveSelection(retained int)
}

type nopObserver struct{}

func (nopObserver) ObserveFit(regression.StageName, string, time.Duration) {}
func (nopObserver) ObserveSelection(int)                                   {}

// Result is what a run produced. Univariate is set whenever fitting started.
type Result struct {
	RunID        core.RunID
	State        State
	Univariate   *regression.StageOutput
	Multivariate *regression.StageOutput
}

// Orchestrator drives INIT -> UNIVARIATE -> (MULTIVARIATE | DONE)
type Orchestrator struct {
	cfg      Config
	pool     *fitPool
	sink     ports.StageSink
	logger   *internal.Logger
	observer FitObserver
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *internal.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithObserver sets the metrics observer
func WithObserver(obs FitObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// NewOrchestrator wires a runner and a sink under cfg
func NewOrchestrator(cfg Config, runner ports.ModelRunner, sink ports.StageSink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		pool:     newFitPool(runner, cfg.Workers, cfg.FitTimeout),
		sink:     sink,
		logger:   internal.DefaultLogger,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes both stages for one metric. Configuration errors return before
// any fitting. A multivariate failure is returned together with a Result whose
// univariate output has already been handed to the sink.
func (o *Orchestrator) Run(ctx context.Context, runID core.RunID, metric string, bundle *dataset.MatrixBundle) (*Result, error) {
	res := &Result{RunID: runID, State: StateInit}
	log := o.logger.With("run_id", runID.String(), "metric", metric)

	if bundle == nil {
		return res, core.NewConfigError("input", "no input matrix")
	}
	if err := o.cfg.Validate(bundle); err != nil {
		return res, err
	}
	elements, predictors := bundle.Elements(), o.cfg.predictorList(bundle)
	for _, p := range predictors {
		if !bundle.HasColumn(p) {
			log.Warn("predictor %s is not in the input matrix, its cells stay NA", p)
		}
	}

	res.State = StateUnivariate
	log.Info("univariate stage: %d elements x %d predictors", len(elements), len(predictors))
	jobs := make([]fitJob, 0, len(elements)*len(predictors))
	for _, e := range elements {
		for _, p := range predictors {
			jobs = append(jobs, o.newJob(e, regression.Term{p}, bundle))
		}
	}
	uni, err := o.runStage(ctx, regression.StageUnivariate, runID, metric, bundle, elements, predictors, jobs, nil)
	if uni == nil {
		return res, err
	}
	res.Univariate = uni
	if perr := o.persist(ctx, uni); perr != nil {
		return res, perr
	}
	if err != nil {
		res.State = StateDone
		return res, err
	}

	if !o.cfg.Multivariate {
		res.State = StateDone
		return res, nil
	}

	res.State = StateMultivariate
	selections, err := SelectPredictors(uni.Tables, o.cfg.Threshold, o.cfg.Forced)
	if err != nil {
		res.State = StateDone
		return res, apperrors.StageFailed(string(regression.StageMultivariate), err)
	}
	o.observer.ObserveSelection(len(selections))
	log.Info("multivariate stage: %d of %d elements retained", len(selections), len(elements))

	retained := make([]string, len(selections))
	jobs = make([]fitJob, len(selections))
	for i, sel := range selections {
		retained[i] = sel.Element
		jobs[i] = o.newJob(sel.Element, sel.Term, bundle)
	}
	multi, err := o.runStage(ctx, regression.StageMultivariate, runID, metric, bundle, retained, predictors, jobs, selections)
	if multi == nil {
		return res, err
	}
	res.Multivariate = multi
	if err != nil {
		res.State = StateDone
		return res, err
	}
	if err := o.persist(ctx, multi); err != nil {
		return res, err
	}
	res.State = StateDone
	return res, nil
}

func (o *Orchestrator) newJob(element string, term regression.Term, schema Schema) fitJob {
	f, err := BuildFormula(element, term, o.cfg.ZeroIntercept, schema)
	return fitJob{Element: element, Term: term, Formula: f, Err: err}
}

// runStage fits jobs, fills fresh storage, corrects and, for the multivariate
// stage, reverts forced cells. A nil output with an error aborts the run; a
// non-nil output with an error is a failure confined to the stage.
func (o *Orchestrator) runStage(
	ctx context.Context,
	stage regression.StageName,
	runID core.RunID,
	metric string,
	bundle *dataset.MatrixBundle,
	elements, predictors []string,
	jobs []fitJob,
	selections []regression.Selection,
) (*regression.StageOutput, error) {
	log := o.logger.With("metric", metric, "stage", string(stage))
	report := regression.NewStageReport(stage)
	report.Planned = len(jobs)
	report.Elements = len(elements)
	report.Predictors = len(predictors)
	storage := NewStorage(elements, predictors)
	out := &regression.StageOutput{RunID: runID, Metric: metric, Stage: stage, Tables: storage.Tables(), Selections: selections, Report: report}

	outcomes, err := o.pool.Run(ctx, bundle, jobs)
	if err != nil {
		return nil, err
	}

	// Single writer: outcomes are gathered by index and filled here.
	for _, oc := range outcomes {
		if oc.Err == nil {
			oc.Err = storage.Fill(oc.Job.Element, oc.Job.Term, oc.Job.Formula.Suffix(), oc.Result)
		}
		if oc.Err != nil {
			reason := skipReason(oc.Err)
			report.RecordFailure(regression.FitFailure{
				Element: oc.Job.Element,
				Term:    oc.Job.Term.String(),
				Formula: oc.Job.Formula.String(),
				Reason:  reason,
				Error:   oc.Err.Error(),
			})
			o.observer.ObserveFit(stage, reason, oc.Elapsed)
			log.Warn("skipping %s ~ %s: %v", oc.Job.Element, oc.Job.Term, oc.Err)
			continue
		}
		report.Succeeded++
		o.observer.ObserveFit(stage, "ok", oc.Elapsed)
		log.Trace("fitted %s", oc.Job.Formula)
	}

	if o.cfg.Correct {
		pval := storage.Tables()[regression.StatPValue]
		if pval.Len() == 0 && stage == regression.StageMultivariate {
			// nothing retained: emit an empty q-value table alongside the others
			storage.SetCorrected(regression.NewTable(elements, predictors))
		} else {
			q, err := CorrectBH(pval)
			if err != nil {
				report.Duration = time.Since(report.StartedAt)
				return out, apperrors.StageFailed(string(stage), err)
			}
			storage.SetCorrected(q)
			report.Corrected = true
		}
	}

	for _, sel := range selections {
		report.ForcedCells += storage.Revert(sel.Element, sel.Forced)
	}

	report.Duration = time.Since(report.StartedAt)
	log.Info("%s stage done: %d fitted, %d skipped in %s", stage, report.Succeeded, report.Failed, report.Duration)
	return out, nil
}

func (o *Orchestrator) persist(ctx context.Context, out *regression.StageOutput) error {
	if o.sink == nil {
		return nil
	}
	if err := o.sink.WriteStage(ctx, out); err != nil {
		return apperrors.Wrapf(err, "persist %s stage", out.Stage)
	}
	return nil
}
