package excel

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/xuri/excelize/v2"

	"goregress/domain/core"
	"goregress/domain/dataset"
	"goregress/domain/regression"
	"goregress/internal"
)

// Supported file types
const (
	FileTSV   = "tsv"
	FileTSVGz = "tsv.gz"
	FileCSV   = "csv"
	FileXLSX  = "xlsx"
)

// NAMarker is written for missing cells and read back as NaN
const NAMarker = "NA"

// RawTable is a header row plus string data rows
type RawTable struct {
	Headers []string
	Rows    [][]string
}

// DataReader handles reading TSV, CSV and Excel files
type DataReader struct {
	filePath string
	fileType string
	sheet    string
	logger   *internal.Logger
}

// NewDataReader creates a reader that picks the format from the file extension
func NewDataReader(filePath string) *DataReader {
	return &DataReader{filePath: filePath, fileType: DetectFileType(filePath), logger: internal.DefaultLogger}
}

// WithSheet selects the xlsx sheet; the first sheet is used otherwise
func (r *DataReader) WithSheet(sheet string) *DataReader {
	r.sheet = sheet
	return r
}

// DetectFileType maps a path to one of the supported file types, tsv by default
func DetectFileType(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tsv.gz"), strings.HasSuffix(lower, ".gz"):
		return FileTSVGz
	case strings.HasSuffix(lower, ".csv"):
		return FileCSV
	case strings.HasSuffix(lower, ".xlsx"):
		return FileXLSX
	}
	return FileTSV
}

// ReadData reads the file into a RawTable
func (r *DataReader) ReadData() (*RawTable, error) {
	if _, err := os.Stat(r.filePath); err != nil {
		return nil, fmt.Errorf("%s file not found: %s: %w", strings.ToUpper(r.fileType), r.filePath, err)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case FileXLSX:
		rows, err = r.readExcelRows()
	default:
		rows, err = r.readDelimitedRows()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s must have at least a header row and one data row", r.filePath)
	}
	r.logger.Debug("[DataReader] %s read (%d columns, %d rows)", r.filePath, len(rows[0]), len(rows)-1)
	return processRows(rows), nil
}

func (r *DataReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := r.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func (r *DataReader) readDelimitedRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", r.filePath, err)
	}
	defer file.Close()

	var src io.Reader = bufio.NewReader(file)
	if r.fileType == FileTSVGz {
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", r.filePath, err)
		}
		defer gz.Close()
		src = gz
	}

	reader := csv.NewReader(src)
	if r.fileType != FileCSV {
		reader.Comma = '\t'
		reader.LazyQuotes = true
	}
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.filePath, err)
	}
	return rows, nil
}

// processRows trims cells and pads short rows to the header width
func processRows(rows [][]string) *RawTable {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	data := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		cells := make([]string, len(headers))
		for j := range cells {
			if j < len(row) {
				cells[j] = strings.TrimSpace(row[j])
			}
		}
		data = append(data, cells)
	}
	return &RawTable{Headers: headers, Rows: data}
}

// ReadElementTable reads an element x sample table: first column holds the
// element id, remaining headers are sample ids.
func ReadElementTable(path string) (*dataset.ElementTable, error) {
	raw, err := NewDataReader(path).ReadData()
	if err != nil {
		return nil, err
	}
	if len(raw.Headers) < 2 {
		return nil, fmt.Errorf("%w: %s has no sample columns", core.ErrInputShape, path)
	}

	t := &dataset.ElementTable{Samples: append([]string(nil), raw.Headers[1:]...)}
	seen := make(map[string]bool, len(raw.Rows))
	for i, row := range raw.Rows {
		id := row[0]
		if id == "" {
			return nil, fmt.Errorf("%w: %s row %d has no element id", core.ErrInputShape, path, i+2)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s repeats element %q", core.ErrInputShape, path, id)
		}
		seen[id] = true
		values := make([]float64, len(t.Samples))
		for j := range values {
			v, ok := dataset.ParseValue(row[j+1])
			if !ok {
				return nil, fmt.Errorf("%w: %s element %q sample %q: %q is not numeric", core.ErrInputShape, path, id, t.Samples[j], row[j+1])
			}
			values[j] = v
		}
		t.Elements = append(t.Elements, id)
		t.Values = append(t.Values, values)
	}
	return t, nil
}

// ReadPredictorTable reads the per-sample predictors file keyed by sampleColumn
func ReadPredictorTable(path, sampleColumn string) (*dataset.PredictorTable, error) {
	raw, err := NewDataReader(path).ReadData()
	if err != nil {
		return nil, err
	}
	key := -1
	for i, h := range raw.Headers {
		if h == sampleColumn {
			key = i
			break
		}
	}
	if key < 0 {
		return nil, core.NewInputShapeError("sample column", sampleColumn)
	}

	t := &dataset.PredictorTable{SampleColumn: sampleColumn, Rows: make(map[string][]string, len(raw.Rows))}
	for i, h := range raw.Headers {
		if i != key {
			t.Columns = append(t.Columns, h)
		}
	}
	for _, row := range raw.Rows {
		id := row[key]
		if id == "" {
			continue
		}
		if _, dup := t.Rows[id]; dup {
			return nil, fmt.Errorf("%w: %s repeats sample %q", core.ErrInputShape, path, id)
		}
		cells := make([]string, 0, len(t.Columns))
		for i, c := range row {
			if i != key {
				cells = append(cells, c)
			}
		}
		t.Rows[id] = cells
		t.Order = append(t.Order, id)
	}
	return t, nil
}

// ReadTable reads one persisted statistic table (element id column + predictors)
func ReadTable(path string) (*regression.Table, error) {
	raw, err := NewDataReader(path).ReadData()
	if err != nil {
		return nil, err
	}
	return parseTable(raw, path)
}

func parseTable(raw *RawTable, source string) (*regression.Table, error) {
	rows := make([]string, len(raw.Rows))
	for i, row := range raw.Rows {
		rows[i] = row[0]
	}
	t := regression.NewTable(rows, raw.Headers[1:])
	for i, row := range raw.Rows {
		for j := range t.Cols {
			v, ok := dataset.ParseValue(row[j+1])
			if !ok {
				return nil, fmt.Errorf("%w: %s cell %s/%s: %q", core.ErrInputShape, source, rows[i], t.Cols[j], row[j+1])
			}
			t.Values[i][j] = v
		}
	}
	return t, nil
}

// ReadStageTables loads every statistic table found in a stage directory,
// from the xlsx workbook when present, else from tsv or tsv.gz files.
func ReadStageTables(dir string) (regression.TableSet, error) {
	ts := make(regression.TableSet)
	if workbook := filepath.Join(dir, WorkbookFile); fileExists(workbook) {
		if err := readWorkbookTables(workbook, ts); err != nil {
			return nil, err
		}
	}
	for _, st := range regression.AllStatistics {
		if _, ok := ts[st]; ok {
			continue
		}
		for _, ext := range []string{FileTSV, FileTSVGz} {
			path := filepath.Join(dir, string(st)+"."+ext)
			if !fileExists(path) {
				continue
			}
			t, err := ReadTable(path)
			if err != nil {
				return nil, err
			}
			ts[st] = t
			break
		}
	}
	if len(ts) == 0 {
		return nil, core.NewNotFoundError("stage tables", dir)
	}
	return ts, nil
}

func readWorkbookTables(path string, ts regression.TableSet) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		st, err := regression.ParseStatistic(sheet)
		if err != nil {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		t, err := parseTable(processRows(rows), path+"#"+sheet)
		if err != nil {
			return err
		}
		ts[st] = t
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return NAMarker
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
