package excel

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/xuri/excelize/v2"

	"goregress/domain/regression"
	"goregress/internal"
)

// TermsFile lists the multivariate term of every retained element
const TermsFile = "terms.tsv"

// WorkbookFile holds all tables of a stage when writing xlsx
const WorkbookFile = "regressions.xlsx"

// rowKeyHeader heads the element id column
const rowKeyHeader = "element"

// StageWriter persists stage tables under <root>/regressions/<metric>/<stage>/
type StageWriter struct {
	root   string
	format string
	logger *internal.Logger
}

// NewStageWriter creates a writer for one of tsv, tsv.gz or xlsx
func NewStageWriter(root, format string, logger *internal.Logger) (*StageWriter, error) {
	switch format {
	case "":
		format = FileTSV
	case FileTSV, FileTSVGz, FileXLSX:
	default:
		return nil, fmt.Errorf("unsupported output format %q (valid: tsv, tsv.gz, xlsx)", format)
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &StageWriter{root: root, format: format, logger: logger}, nil
}

// MetricDir holds every stage directory of a metric plus its run artifacts
func (w *StageWriter) MetricDir(metric string) string {
	return filepath.Join(w.root, "regressions", metric)
}

// StageDir is where a stage's files go
func (w *StageWriter) StageDir(metric string, stage regression.StageName) string {
	return filepath.Join(w.MetricDir(metric), string(stage))
}

// WriteStage writes every table of the stage and, for the multivariate stage,
// the terms file.
func (w *StageWriter) WriteStage(ctx context.Context, out *regression.StageOutput) error {
	dir := w.StageDir(out.Metric, out.Stage)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	if w.format == FileXLSX {
		if err := writeWorkbook(filepath.Join(dir, WorkbookFile), out.Tables); err != nil {
			return err
		}
	} else {
		for _, st := range out.Tables.Statistics() {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, string(st)+"."+w.format)
			if err := writeAtomically(path, w.format == FileTSVGz, func(wr io.Writer) error {
				return writeTableTSV(wr, out.Tables[st])
			}); err != nil {
				return err
			}
		}
	}

	if out.Stage == regression.StageMultivariate {
		if err := writeAtomically(filepath.Join(dir, TermsFile), false, func(wr io.Writer) error {
			return WriteTerms(wr, out.Selections)
		}); err != nil {
			return err
		}
	}
	w.logger.Info("wrote %s tables for %s to %s", out.Stage, out.Metric, dir)
	return nil
}

// writeAtomically writes through a temp file renamed into place
func writeAtomically(path string, compress bool, fill func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriter(tmp)
	var dst io.Writer = buf
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(buf)
		dst = gz
	}
	if err = fill(dst); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return err
		}
	}
	if err = buf.Flush(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func tableRows(t *regression.Table) [][]string {
	rows := make([][]string, 0, len(t.Rows)+1)
	rows = append(rows, append([]string{rowKeyHeader}, t.Cols...))
	for i, element := range t.Rows {
		row := make([]string, 0, len(t.Cols)+1)
		row = append(row, element)
		for _, v := range t.Values[i] {
			row = append(row, formatValue(v))
		}
		rows = append(rows, row)
	}
	return rows
}

func writeTableTSV(w io.Writer, t *regression.Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.WriteAll(tableRows(t)); err != nil {
		return err
	}
	return cw.Error()
}

// WriteTerms writes element, term and forced predictors as TSV
func WriteTerms(w io.Writer, selections []regression.Selection) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{rowKeyHeader, "term", "forced"}); err != nil {
		return err
	}
	for _, sel := range selections {
		if err := cw.Write([]string{sel.Element, sel.Term.String(), strings.Join(sel.Forced, ",")}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTerms reads a terms file back into selections
func ReadTerms(path string) ([]regression.Selection, error) {
	raw, err := NewDataReader(path).ReadData()
	if err != nil {
		return nil, err
	}
	out := make([]regression.Selection, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		sel := regression.Selection{Element: row[0], Term: regression.ParseTerm(row[1])}
		if len(row) > 2 && row[2] != "" {
			sel.Forced = strings.Split(row[2], ",")
		}
		out = append(out, sel)
	}
	return out, nil
}

// writeWorkbook stores one sheet per statistic
func writeWorkbook(path string, tables regression.TableSet) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, st := range tables.Statistics() {
		sheet := string(st)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		for r, row := range tableRows(tables[st]) {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			values := make([]interface{}, len(row))
			for j, v := range row {
				values[j] = v
			}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				return err
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
