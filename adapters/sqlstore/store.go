// Package sqlstore persists run manifests and result cells in PostgreSQL
// (lib/pq) or SQLite (modernc.org/sqlite) through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"goregress/domain/core"
	"goregress/domain/regression"
	"goregress/domain/run"
	"goregress/internal"
	apperrors "goregress/internal/errors"
	"goregress/ports"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store implements ports.ResultRepository
type Store struct {
	db     *sqlx.DB
	logger *internal.Logger
}

var _ ports.ResultRepository = (*Store)(nil)

// Open connects, pings and migrates the results database
func Open(ctx context.Context, driver, url string, logger *internal.Logger) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, apperrors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q", driver))
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}

	db, err := sqlx.ConnectContext(ctx, driver, url)
	if err != nil {
		return nil, apperrors.DatabaseError("connect", err)
	}
	if driver == DriverSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}

	if err := NewMigrator(db, logger).Up(ctx); err != nil {
		db.Close()
		return nil, apperrors.DatabaseError("migrate", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewStore wraps an already migrated connection
func NewStore(db *sqlx.DB, logger *internal.Logger) *Store {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Store{db: db, logger: logger}
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or updates a run row
func (s *Store) SaveRun(ctx context.Context, m *run.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return apperrors.Wrap(err, "encode manifest")
	}

	var finished interface{}
	if !m.FinishedAt.IsZero() {
		finished = m.FinishedAt
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO regression_runs (run_id, metric, model, status, config_hash, fingerprint, manifest, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			status = excluded.status,
			manifest = excluded.manifest,
			finished_at = excluded.finished_at
	`), m.RunID.String(), m.Metric, string(m.Model), string(m.Status), m.ConfigHash.String(),
		m.Fingerprint.Fingerprint.String(), string(payload), m.CreatedAt, finished)
	if err != nil {
		return apperrors.DatabaseError("save run", err)
	}
	return nil
}

// SaveStage replaces the stored cells and selections of one stage
func (s *Store) SaveStage(ctx context.Context, out *regression.StageOutput) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM regression_cells WHERE run_id = ? AND stage = ?`),
		out.RunID.String(), string(out.Stage)); err != nil {
		return apperrors.DatabaseError("clear stage", err)
	}

	insert, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO regression_cells (run_id, stage, statistic, row_idx, col_idx, element, predictor, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return apperrors.DatabaseError("prepare cells", err)
	}
	defer insert.Close()

	cells := 0
	for _, stat := range out.Tables.Statistics() {
		t := out.Tables[stat]
		for i, row := range t.Rows {
			for j, col := range t.Cols {
				var v sql.NullFloat64
				if x := t.Values[i][j]; !regression.IsNA(x) {
					v = sql.NullFloat64{Float64: x, Valid: true}
				}
				if _, err := insert.ExecContext(ctx, out.RunID.String(), string(out.Stage), string(stat), i, j, row, col, v); err != nil {
					return apperrors.DatabaseError("insert cell", err)
				}
				cells++
			}
		}
	}

	if out.Stage == regression.StageMultivariate {
		if err := saveSelections(ctx, tx, out.RunID, out.Selections); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseError("commit stage", err)
	}
	s.logger.Debug("stored %d cells for run %s stage %s", cells, out.RunID, out.Stage)
	return nil
}

func saveSelections(ctx context.Context, tx *sqlx.Tx, runID core.RunID, selections []regression.Selection) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM regression_selections WHERE run_id = ?`), runID.String()); err != nil {
		return apperrors.DatabaseError("clear selections", err)
	}
	for _, sel := range selections {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO regression_selections (run_id, element, term, forced) VALUES (?, ?, ?, ?)
		`), runID.String(), sel.Element, sel.Term.String(), strings.Join(sel.Forced, ","))
		if err != nil {
			return apperrors.DatabaseError("insert selection", err)
		}
	}
	return nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]run.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []run.Summary
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT run_id, metric, model, status, created_at
		FROM regression_runs
		ORDER BY created_at DESC, run_id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, apperrors.DatabaseError("list runs", err)
	}
	return rows, nil
}

// LoadRun returns the stored manifest of a run
func (s *Store) LoadRun(ctx context.Context, runID core.RunID) (*run.Manifest, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, s.db.Rebind(`SELECT manifest FROM regression_runs WHERE run_id = ?`), runID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError("run", runID.String())
	}
	if err != nil {
		return nil, apperrors.DatabaseError("load run", err)
	}
	var m run.Manifest
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, apperrors.Wrap(err, "decode manifest")
	}
	return &m, nil
}

type cellRow struct {
	RowIdx    int             `db:"row_idx"`
	ColIdx    int             `db:"col_idx"`
	Element   string          `db:"element"`
	Predictor string          `db:"predictor"`
	Value     sql.NullFloat64 `db:"value"`
}

// LoadTable rebuilds one stored table in its original row and column order
func (s *Store) LoadTable(ctx context.Context, runID core.RunID, stage regression.StageName, stat regression.Statistic) (*regression.Table, error) {
	var cells []cellRow
	err := s.db.SelectContext(ctx, &cells, s.db.Rebind(`
		SELECT row_idx, col_idx, element, predictor, value
		FROM regression_cells
		WHERE run_id = ? AND stage = ? AND statistic = ?
		ORDER BY row_idx, col_idx
	`), runID.String(), string(stage), string(stat))
	if err != nil {
		return nil, apperrors.DatabaseError("load table", err)
	}
	if len(cells) == 0 {
		return nil, core.NewNotFoundError("table", fmt.Sprintf("%s/%s/%s", runID, stage, stat))
	}

	var rows, cols []string
	for _, c := range cells {
		if c.RowIdx == len(rows) {
			rows = append(rows, c.Element)
		}
		if c.RowIdx == 0 && c.ColIdx == len(cols) {
			cols = append(cols, c.Predictor)
		}
	}
	t := regression.NewTable(rows, cols)
	for _, c := range cells {
		if c.RowIdx >= len(rows) || c.ColIdx >= len(cols) {
			return nil, apperrors.DatabaseError("load table", fmt.Errorf("cell (%d,%d) outside %dx%d", c.RowIdx, c.ColIdx, len(rows), len(cols)))
		}
		if c.Value.Valid {
			t.Values[c.RowIdx][c.ColIdx] = c.Value.Float64
		}
	}
	return t, nil
}
