package ports

import (
	"context"
	"io"

	"goregress/domain/core"
	"goregress/domain/regression"
	"goregress/domain/run"
)

// StageSink receives each stage's tables as soon as the stage completes
type StageSink interface {
	WriteStage(ctx context.Context, out *regression.StageOutput) error
}

// ResultRepository persists runs and their cells for later querying
type ResultRepository interface {
	SaveRun(ctx context.Context, manifest *run.Manifest) error
	SaveStage(ctx context.Context, out *regression.StageOutput) error
	ListRuns(ctx context.Context, limit int) ([]run.Summary, error)
	LoadRun(ctx context.Context, runID core.RunID) (*run.Manifest, error)
	LoadTable(ctx context.Context, runID core.RunID, stage regression.StageName, stat regression.Statistic) (*regression.Table, error)
}

// BlobStore uploads run artifacts to object storage
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}
