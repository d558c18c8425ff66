package dataio

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/pairs"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// WriteCSV stores a table with the date column first. NaN is written as an
// empty cell so that LoadCSV reads the file back unchanged.
func WriteCSV(t *timeseries.Table, outputPath string) error {
	if t == nil {
		return apperrors.NewValueError("no table to write")
	}

	columns := t.Columns()
	values := make([][]float64, len(columns))
	for i, name := range columns {
		v, err := t.Column(name)
		if err != nil {
			return err
		}
		values[i] = v
	}

	records := make([][]string, 0, t.Len()+1)
	records = append(records, append([]string{DefaultDateColumn}, columns...))
	for r, d := range t.Dates() {
		record := make([]string, 0, len(columns)+1)
		record = append(record, d.Format(timeseries.DateLayout))
		for i := range columns {
			record = append(record, formatFloat(values[i][r]))
		}
		records = append(records, record)
	}

	return writeRecords(outputPath, records)
}

var candidateHeader = []string{
	"Rank",
	"Security_A",
	"Security_B",
	"Correlation",
	"Method",
	"Statistic",
	"P_Value",
	"Hedge_Ratio",
	"Half_Life",
	"Rank_Score",
	"Stationarity_A_P",
	"Stationarity_B_P",
}

// WriteCandidates stores the ranked candidates of a report as .csv or
// .xlsx, chosen by extension.
func WriteCandidates(report *pairs.Report, outputPath string) error {
	if report == nil {
		return apperrors.NewValueError("no report to write")
	}

	records := make([][]string, 0, len(report.Candidates)+1)
	records = append(records, candidateHeader)
	for _, c := range report.Candidates {
		records = append(records, candidateRecord(c))
	}

	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".csv":
		return writeRecords(outputPath, records)
	case ".xlsx":
		return writeWorkbook(outputPath, "Candidates", records, candidateTextColumns)
	default:
		return apperrors.NewInvalidParameterError("file extension", filepath.Ext(outputPath), []string{".csv", ".xlsx"})
	}
}

// Columns of candidateHeader written as text in workbooks.
var candidateTextColumns = map[int]bool{1: true, 2: true, 4: true}

func candidateRecord(c pairs.Candidate) []string {
	record := []string{
		strconv.Itoa(c.Rank),
		c.SecurityA,
		c.SecurityB,
		formatFloat(c.Correlation),
		"", "", "",
		formatFloat(c.HedgeRatio),
		"",
		formatFloat(c.RankScore),
		"", "",
	}
	if c.Cointegration != nil {
		record[4] = string(c.Cointegration.Method)
		record[5] = formatFloat(c.Cointegration.Statistic)
		if c.Cointegration.PValue != nil {
			record[6] = formatFloat(*c.Cointegration.PValue)
		}
	}
	if c.HalfLife != nil {
		record[8] = formatFloat(*c.HalfLife)
	}
	if c.StationarityA != nil {
		record[10] = formatFloat(c.StationarityA.PValue)
	}
	if c.StationarityB != nil {
		record[11] = formatFloat(c.StationarityB.PValue)
	}
	return record
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeRecords(outputPath string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("write CSV file: %w", err)
	}

	slog.Info("Wrote CSV file",
		slog.String("file_path", outputPath),
		slog.Int("record_count", len(records)-1))
	return file.Close()
}

func writeWorkbook(outputPath, sheet string, records [][]string, textColumns map[int]bool) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for r, record := range records {
		cells := make([]interface{}, len(record))
		for i, v := range record {
			if r > 0 && !textColumns[i] && v != "" {
				n, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return fmt.Errorf("row %d: %w", r+1, err)
				}
				cells[i] = n
			} else {
				cells[i] = v
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", r+1, err)
		}
	}

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	slog.Info("Wrote workbook",
		slog.String("file_path", outputPath),
		slog.Int("record_count", len(records)-1))
	return nil
}
