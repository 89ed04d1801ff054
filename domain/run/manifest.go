package run

import (
	"crypto/sha256"
	"fmt"
	"time"

	"goregress/domain/core"
	"goregress/domain/regression"
)

// Manifest is the run.json written next to the stage tables.
// It must be complete before any stage output is persisted.
type Manifest struct {
	RunID       core.RunID                                       `json:"run_id"`
	Metric      string                                           `json:"metric"`
	Model       regression.ModelKind                             `json:"model"`
	InputPath   string                                           `json:"input_path"`
	InputPrint  core.Fingerprint                                 `json:"input_fingerprint"`
	ConfigHash  core.Hash                                        `json:"config_hash"`
	CodeVersion string                                           `json:"code_version"`
	Fingerprint RunFingerprint                                   `json:"fingerprint"`
	Stages      map[regression.StageName]*regression.StageReport `json:"stages,omitempty"`
	Status      Status                                           `json:"status"`
	Error       string                                           `json:"error,omitempty"`
	CreatedAt   time.Time                                        `json:"created_at"`
	FinishedAt  time.Time                                        `json:"finished_at,omitempty"`
}

// Status of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Summary is the listing view of a persisted run
type Summary struct {
	RunID     core.RunID `json:"run_id" db:"run_id"`
	Metric    string     `json:"metric" db:"metric"`
	Model     string     `json:"model" db:"model"`
	Status    Status     `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// NewManifest creates a manifest for a metric run
func NewManifest(metric string, model regression.ModelKind, inputPath string, input core.Fingerprint, configHash core.Hash, codeVersion string) *Manifest {
	return &Manifest{
		RunID:       core.NewRunID(),
		Metric:      metric,
		Model:       model,
		InputPath:   inputPath,
		InputPrint:  input,
		ConfigHash:  configHash,
		CodeVersion: codeVersion,
		Fingerprint: NewRunFingerprint(input, configHash, codeVersion),
		Stages:      make(map[regression.StageName]*regression.StageReport),
		Status:      StatusRunning,
		CreatedAt:   time.Now().UTC(),
	}
}

// RecordStage attaches a finished stage report
func (m *Manifest) RecordStage(report *regression.StageReport) {
	if report == nil {
		return
	}
	m.Stages[report.Stage] = report
}

// Finish marks the run completed, or failed when err is non-nil
func (m *Manifest) Finish(err error) {
	m.FinishedAt = time.Now().UTC()
	if err != nil {
		m.Status = StatusFailed
		m.Error = err.Error()
		return
	}
	m.Status = StatusCompleted
}

// Summary returns the listing view
func (m *Manifest) Summary() Summary {
	return Summary{RunID: m.RunID, Metric: m.Metric, Model: string(m.Model), Status: m.Status, CreatedAt: m.CreatedAt}
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewConfigError("run_manifest", "run_id cannot be empty")
	}
	if m.Metric == "" {
		return core.NewConfigError("run_manifest", "metric cannot be empty")
	}
	if _, err := regression.ParseModelKind(string(m.Model)); err != nil {
		return err
	}
	if m.ConfigHash.IsEmpty() {
		return core.NewConfigError("run_manifest", "config_hash cannot be empty")
	}
	return nil
}

// RunFingerprint identifies runs that must produce identical tables
type RunFingerprint struct {
	Input       core.Fingerprint `json:"input"`
	ConfigHash  core.Hash        `json:"config_hash"`
	CodeVersion string           `json:"code_version"`
	Fingerprint core.Hash        `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint creates a fingerprint from determinism parameters
func NewRunFingerprint(input core.Fingerprint, configHash core.Hash, codeVersion string) RunFingerprint {
	data := fmt.Sprintf("input:%s|config:%s|code:%s", input, configHash, codeVersion)
	hash := sha256.Sum256([]byte(data))
	return RunFingerprint{
		Input:       input,
		ConfigHash:  configHash,
		CodeVersion: codeVersion,
		Fingerprint: core.Hash(fmt.Sprintf("%x", hash)),
	}
}
