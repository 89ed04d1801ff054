package regression

import (
	"time"

	"goregress/domain/core"
)

// Skip reasons recorded in StageReport.SkipsByReason
const (
	SkipModelFit   = "model_fit"
	SkipInputShape = "input_shape"
	SkipTimeout    = "timeout"
)

// FitFailure records one (element, term) pair that left its cells NA
type FitFailure struct {
	Element string `json:"element"`
	Term    string `json:"term"`
	Formula string `json:"formula"`
	Reason  string `json:"reason"`
	Error   string `json:"error"`
}

// StageReport captures the execution of one stage
type StageReport struct {
	Stage         StageName      `json:"stage"`
	Planned       int            `json:"planned"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	Elements      int            `json:"elements"`
	Predictors    int            `json:"predictors"`
	Corrected     bool           `json:"corrected"`
	ForcedCells   int            `json:"forced_cells,omitempty"`
	SkipsByReason map[string]int `json:"skips_by_reason,omitempty"`
	Failures      []FitFailure   `json:"failures,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration_ns"`
}

// NewStageReport starts a report for a stage
func NewStageReport(stage StageName) *StageReport {
	return &StageReport{
		Stage:         stage,
		SkipsByReason: make(map[string]int),
		StartedAt:     time.Now(),
	}
}

// RecordFailure counts a skipped pair under its reason
func (r *StageReport) RecordFailure(f FitFailure) {
	r.Failed++
	r.SkipsByReason[f.Reason]++
	r.Failures = append(r.Failures, f)
}

// StageOutput is what a completed stage hands to persistence
type StageOutput struct {
	RunID      core.RunID
	Metric     string
	Stage      StageName
	Tables     TableSet
	Selections []Selection // multivariate only
	Report     *StageReport
}
