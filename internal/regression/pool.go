package regression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"goregress/domain/core"
	"goregress/domain/dataset"
	"goregress/domain/regression"
	"goregress/ports"
)

// fitJob is one (element, term) pair scheduled in a stage
type fitJob struct {
	Element string
	Term    regression.Term
	Formula regression.Formula
	Err     error // formula could not be built; the job is reported without fitting
}

// fitOutcome is the gathered result of a fitJob, stored at the job's index
type fitOutcome struct {
	Job     fitJob
	Result  *regression.ModelResult
	Err     error
	Elapsed time.Duration
}

// fitPool runs fits on a bounded number of goroutines. Per-fit errors are
// captured in the outcome and never cancel sibling fits; only cancellation
// of the parent context stops the pool.
type fitPool struct {
	runner  ports.ModelRunner
	workers int64
	timeout time.Duration
}

func newFitPool(runner ports.ModelRunner, workers int, timeout time.Duration) *fitPool {
	if workers < 1 {
		workers = 1
	}
	return &fitPool{runner: runner, workers: int64(workers), timeout: timeout}
}

// Run fits every job and returns outcomes in job order
func (p *fitPool) Run(ctx context.Context, bundle *dataset.MatrixBundle, jobs []fitJob) ([]fitOutcome, error) {
	outcomes := make([]fitOutcome, len(jobs))
	sem := semaphore.NewWeighted(p.workers)
	g, gctx := errgroup.WithContext(ctx)

	for i, job := range jobs {
		outcomes[i].Job = job
		if job.Err != nil {
			outcomes[i].Err = job.Err
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		i, job := i, job
		g.Go(func() error {
			defer sem.Release(1)
			outcomes[i] = p.fit(gctx, bundle, job)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (p *fitPool) fit(ctx context.Context, bundle *dataset.MatrixBundle, job fitJob) (out fitOutcome) {
	out.Job = job
	start := time.Now()
	defer func() {
		out.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			out.Result = nil
			out.Err = core.NewModelFitError(job.Formula.String(), fmt.Errorf("solver panic: %v", r))
		}
	}()

	fitCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	res, err := p.runner.Fit(fitCtx, bundle, job.Formula)
	switch {
	case err == nil && res == nil:
		err = core.NewModelFitError(job.Formula.String(), errors.New("solver returned no result"))
	case err != nil && ctx.Err() == nil && errors.Is(fitCtx.Err(), context.DeadlineExceeded):
		err = core.NewModelFitError(job.Formula.String(), core.ErrFitTimeout)
	case err != nil && !core.IsRecoverable(err) && ctx.Err() == nil:
		err = core.NewModelFitError(job.Formula.String(), err)
	}
	out.Result, out.Err = res, err
	if err != nil {
		out.Result = nil
	}
	return out
}

// skipReason classifies a per-pair failure for the stage report
func skipReason(err error) string {
	switch {
	case errors.Is(err, core.ErrFitTimeout):
		return regression.SkipTimeout
	case core.IsInputShapeError(err):
		return regression.SkipInputShape
	}
	return regression.SkipModelFit
}
