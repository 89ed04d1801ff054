package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"goregress/adapters/blob/s3"
	"goregress/adapters/excel"
	"goregress/adapters/stats/solver"
	"goregress/domain/dataset"
	"goregress/domain/regression"
	"goregress/domain/run"
	"goregress/internal"
	"goregress/internal/config"
	apperrors "goregress/internal/errors"
	"goregress/internal/metrics"
	engine "goregress/internal/regression"
	"goregress/internal/report"
	"goregress/ports"
)

const (
	ManifestFile = "run.json"
	MetricsFile  = "metrics.prom"
)

// RegressionService runs every configured metric through the two-stage
// orchestrator and writes the run artifacts next to the stage tables.
type RegressionService struct {
	cfg         *config.Config
	repo        ports.ResultRepository
	blobs       ports.BlobStore
	shared      *metrics.Recorder
	logger      *internal.Logger
	codeVersion string
}

// ServiceOption customizes a RegressionService
type ServiceOption func(*RegressionService)

// WithRepository stores runs and cells in a results database
func WithRepository(repo ports.ResultRepository) ServiceOption {
	return func(s *RegressionService) { s.repo = repo }
}

// WithBlobStore uploads each metric directory after the run
func WithBlobStore(blobs ports.BlobStore) ServiceOption {
	return func(s *RegressionService) { s.blobs = blobs }
}

// WithRecorder also reports fits to a process-wide recorder
func WithRecorder(r *metrics.Recorder) ServiceOption {
	return func(s *RegressionService) { s.shared = r }
}

// WithServiceLogger sets the logger
func WithServiceLogger(l *internal.Logger) ServiceOption {
	return func(s *RegressionService) { s.logger = l }
}

// WithCodeVersion records the build version in manifests
func WithCodeVersion(v string) ServiceOption {
	return func(s *RegressionService) { s.codeVersion = v }
}

// NewRegressionService creates a service over a loaded config
func NewRegressionService(cfg *config.Config, opts ...ServiceOption) *RegressionService {
	s := &RegressionService{cfg: cfg, logger: internal.DefaultLogger, codeVersion: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MetricOutcome is what one metric section produced
type MetricOutcome struct {
	Key      string
	Metric   string
	Dir      string
	Manifest *run.Manifest
	Result   *engine.Result
	Err      error
}

// RunAll processes metric sections in order. Configuration errors abort
// before any metric runs; a failing metric does not stop the others.
func (s *RegressionService) RunAll(ctx context.Context) ([]MetricOutcome, error) {
	metricRuns, err := s.cfg.MetricRuns()
	if err != nil {
		return nil, err
	}

	outcomes := make([]MetricOutcome, 0, len(metricRuns))
	failed := 0
	for _, ms := range metricRuns {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		out := s.RunMetric(ctx, ms)
		if out.Err != nil {
			failed++
			s.logger.Error("metric %s (%s) failed: %v", ms.Name, ms.Key, out.Err)
		}
		outcomes = append(outcomes, out)
	}
	if failed > 0 {
		return outcomes, fmt.Errorf("%d of %d metrics failed", failed, len(metricRuns))
	}
	return outcomes, nil
}

// RunMetric loads, merges and regresses one metric
func (s *RegressionService) RunMetric(ctx context.Context, ms config.MetricSettings) MetricOutcome {
	out := MetricOutcome{Key: ms.Key, Metric: ms.Name}
	log := s.logger.With("metric", ms.Name)

	bundle, err := s.loadBundle(ms, log)
	if err != nil {
		out.Err = err
		return out
	}

	kind := ms.ModelKind()
	runner, err := solver.NewRunner(kind, solver.Options{RandomEffect: ms.PredictorRandomEffect})
	if err != nil {
		out.Err = err
		return out
	}
	writer, err := excel.NewStageWriter(ms.OutputDir, s.cfg.Output.Format, log)
	if err != nil {
		out.Err = apperrors.ConfigInvalid(err.Error())
		return out
	}
	out.Dir = writer.MetricDir(ms.Name)

	manifest := run.NewManifest(ms.Name, kind, ms.File, bundle.Fingerprint, s.cfg.Hash, s.codeVersion)
	out.Manifest = manifest
	if err := s.saveManifest(ctx, out.Dir, manifest); err != nil {
		out.Err = err
		return out
	}

	recorder := metrics.NewRecorder()
	var observer engine.FitObserver = recorder
	if s.shared != nil {
		observer = teeObserver{recorder, s.shared}
	}
	orch := engine.NewOrchestrator(orchestratorConfig(ms), runner, &stageFanout{files: writer, repo: s.repo},
		engine.WithLogger(log), engine.WithObserver(observer))

	res, runErr := orch.Run(ctx, manifest.RunID, ms.Name, bundle)
	out.Result = res
	if res != nil {
		if res.Univariate != nil {
			manifest.RecordStage(res.Univariate.Report)
		}
		if res.Multivariate != nil {
			manifest.RecordStage(res.Multivariate.Report)
		}
	}
	manifest.Finish(runErr)
	recorder.ObserveRun(runErr != nil)
	if s.shared != nil {
		s.shared.ObserveRun(runErr != nil)
	}

	artifactErr := s.writeArtifacts(ctx, out.Dir, manifest, recorder)
	if runErr != nil {
		out.Err = runErr
		if artifactErr != nil {
			log.Error("artifacts after failed run: %v", artifactErr)
		}
		return out
	}
	out.Err = artifactErr
	if out.Err == nil {
		log.Info("run %s completed in %s", manifest.RunID, manifest.FinishedAt.Sub(manifest.CreatedAt).Round(time.Millisecond))
	}
	return out
}

func (s *RegressionService) loadBundle(ms config.MetricSettings, log *internal.Logger) (*dataset.MatrixBundle, error) {
	elements, err := excel.ReadElementTable(ms.File)
	if err != nil {
		return nil, apperrors.Wrapf(err, "read metric file %s", ms.File)
	}
	predictors, err := excel.ReadPredictorTable(ms.PredictorsFile, ms.SampleColumn)
	if err != nil {
		return nil, apperrors.Wrapf(err, "read predictors file %s", ms.PredictorsFile)
	}
	bundle, merged, err := dataset.Merge(elements, predictors, dataset.MergeSpec{
		Predictors:  ms.Predictors,
		GroupColumn: ms.PredictorRandomEffect,
	})
	if err != nil {
		return nil, err
	}
	if n := len(merged.SamplesNoPredictors); n > 0 {
		log.Warn("%d samples have no predictor row and were dropped", n)
	}
	if len(merged.MissingPredictors) > 0 {
		log.Warn("predictors %v are not in %s, their cells stay NA", merged.MissingPredictors, ms.PredictorsFile)
	}
	for p, n := range merged.UnparseablePredictor {
		log.Warn("predictor %s has %d non-numeric values, treated as NA", p, n)
	}
	log.Info("merged %d elements x %d predictors over %d samples", len(bundle.Elements()), len(bundle.Predictors()), merged.Samples)
	return bundle, nil
}

func orchestratorConfig(ms config.MetricSettings) engine.Config {
	return engine.Config{
		Model:         ms.ModelKind(),
		Predictors:    ms.Predictors,
		RandomEffect:  ms.PredictorRandomEffect,
		ZeroIntercept: regression.ZeroInterceptRule(ms.PredictorsIntercept0),
		Multivariate:  bool(ms.Multi),
		Forced:        ms.ForcedRules(),
		Correct:       bool(ms.CorrectPvals),
		Threshold:     ms.SignificanceThreshold,
		Workers:       ms.Workers,
		FitTimeout:    ms.FitTimeout,
	}
}

// saveManifest writes run.json and the database row
func (s *RegressionService) saveManifest(ctx context.Context, dir string, m *run.Manifest) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.IOError(dir, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, "encode manifest")
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return apperrors.IOError(path, err)
	}
	if s.repo != nil {
		return s.repo.SaveRun(ctx, m)
	}
	return nil
}

func (s *RegressionService) writeArtifacts(ctx context.Context, dir string, m *run.Manifest, rec *metrics.Recorder) error {
	if err := s.saveManifest(ctx, dir, m); err != nil {
		return err
	}
	if s.cfg.Output.Report {
		if err := report.Write(dir, m); err != nil {
			return err
		}
	}
	if s.cfg.Output.MetricsFile {
		if err := rec.WriteTextfile(filepath.Join(dir, MetricsFile)); err != nil {
			return apperrors.IOError(filepath.Join(dir, MetricsFile), err)
		}
	}
	if s.blobs != nil {
		n, err := s3.UploadDir(ctx, s.blobs, dir, m.Metric+"/"+m.RunID.String())
		if err != nil {
			return err
		}
		s.logger.Info("uploaded %d artifacts for run %s", n, m.RunID)
	}
	return nil
}

// stageFanout hands each stage to the file writer, then the database
type stageFanout struct {
	files ports.StageSink
	repo  ports.ResultRepository
}

func (f *stageFanout) WriteStage(ctx context.Context, out *regression.StageOutput) error {
	if err := f.files.WriteStage(ctx, out); err != nil {
		return apperrors.IOError(out.Metric+"/"+string(out.Stage), err)
	}
	if f.repo != nil {
		return f.repo.SaveStage(ctx, out)
	}
	return nil
}

type teeObserver []engine.FitObserver

func (t teeObserver) ObserveFit(stage regression.StageName, outcome string, elapsed time.Duration) {
	for _, o := range t {
		o.ObserveFit(stage, outcome, elapsed)
	}
}

func (t teeObserver) ObserveSelection(retained int) {
	for _, o := range t {
		o.ObserveSelection(retained)
	}
}

// SelectFromDir re-runs predictor selection on persisted univariate tables,
// preferring qval over pval.
func SelectFromDir(uniDir string, ms config.MetricSettings) ([]regression.Selection, error) {
	tables, err := excel.ReadStageTables(uniDir)
	if err != nil {
		return nil, err
	}
	return engine.SelectPredictors(tables, ms.SignificanceThreshold, ms.ForcedRules())
}
