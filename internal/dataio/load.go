package dataio

import (
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// DefaultDateColumn is the header of the date index column.
const DefaultDateColumn = "date"

// Options controls how a file is turned into a table.
type Options struct {
	// DateColumn names the index column, matched case-insensitively.
	// Empty means DefaultDateColumn.
	DateColumn string
	// Sheet selects the XLSX worksheet. Empty means the first sheet.
	Sheet string
}

func (o Options) dateColumn() string {
	if o.DateColumn == "" {
		return DefaultDateColumn
	}
	return o.DateColumn
}

// Load reads a .csv or .xlsx file into a table, picking the reader from the
// file extension.
func Load(path string, opts Options) (*timeseries.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path, opts)
	case ".xlsx", ".xlsm":
		return LoadXLSX(path, opts)
	default:
		return nil, apperrors.NewInvalidParameterError("file extension", filepath.Ext(path), []string{".csv", ".xlsx", ".xlsm"})
	}
}

// LoadCSV reads a CSV file whose header holds the date column and one column
// per security. Rows may come in any date order.
func LoadCSV(path string, opts Options) (*timeseries.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ReadCSV(file, path, opts)
}

// ReadCSV reads CSV content from r. name labels the source in errors.
func ReadCSV(r io.Reader, name string, opts Options) (*timeseries.Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read %s", filepath.Base(name)), err)
		}
		rows = append(rows, record)
	}

	slog.Debug("Read CSV file",
		slog.String("file_path", name),
		slog.Int("rows", len(rows)))

	return buildTable(rows, opts.dateColumn(), name)
}

// LoadXLSX reads a worksheet laid out like the CSV format. Date cells may
// hold ISO text or Excel serial dates.
func LoadXLSX(path string, opts Options) (*timeseries.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, apperrors.NewSchemaError(fmt.Sprintf("%s has no worksheets", filepath.Base(path)))
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read sheet %q", sheet), err)
	}

	slog.Debug("Read worksheet",
		slog.String("file_path", path),
		slog.String("sheet_name", sheet),
		slog.Int("rows", len(rows)))

	return buildTable(rows, opts.dateColumn(), path)
}

type row struct {
	date   time.Time
	values []float64
}

// buildTable converts a header plus data rows into a table sorted by date.
// Blank rows are skipped and short rows are padded with NaN.
func buildTable(records [][]string, dateColumn, path string) (*timeseries.Table, error) {
	if len(records) == 0 {
		return nil, apperrors.NewSchemaError(fmt.Sprintf("%s is empty", filepath.Base(path)))
	}

	header := records[0]
	dateIdx := -1
	var names []string
	var valueIdx []int
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if dateIdx < 0 && strings.EqualFold(h, dateColumn) {
			dateIdx = i
			continue
		}
		names = append(names, h)
		valueIdx = append(valueIdx, i)
	}
	if dateIdx < 0 {
		return nil, apperrors.NewSchemaError(
			fmt.Sprintf("%s has no %q column", filepath.Base(path), dateColumn))
	}

	rows := make([]row, 0, len(records)-1)
	for n, record := range records[1:] {
		line := n + 2
		if isBlank(record) {
			continue
		}
		if dateIdx >= len(record) {
			return nil, apperrors.NewParsingError(fmt.Sprintf("line %d: missing date", line), nil)
		}
		date, err := parseDateCell(record[dateIdx])
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("line %d: invalid date %q", line, record[dateIdx]), err)
		}

		values := make([]float64, len(valueIdx))
		for j, idx := range valueIdx {
			if idx >= len(record) {
				values[j] = math.NaN()
				continue
			}
			v, err := parseValueCell(record[idx])
			if err != nil {
				return nil, apperrors.NewParsingError(
					fmt.Sprintf("line %d: column %q: invalid number %q", line, names[j], record[idx]), err)
			}
			values[j] = v
		}
		rows = append(rows, row{date: date, values: values})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })

	dates := make([]time.Time, len(rows))
	columns := make(map[string][]float64, len(names))
	for _, name := range names {
		columns[name] = make([]float64, len(rows))
	}
	for i, r := range rows {
		dates[i] = r.date
		for j, name := range names {
			columns[name][i] = r.values[j]
		}
	}

	return timeseries.New(dates, names, columns)
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

var dateLayouts = []string{
	timeseries.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
}

// parseDateCell accepts ISO dates, timestamps (truncated to the day) and
// Excel serial numbers.
func parseDateCell(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	serial, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, err
	}
	// Serial dates carry float noise; round to the nearest day.
	t = t.Add(12 * time.Hour)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// parseValueCell reads a number. Empty cells and the usual missing markers
// become NaN; thousands separators are ignored.
func parseValueCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "na", "n/a", "null", "-":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
