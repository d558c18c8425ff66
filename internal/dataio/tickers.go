package dataio

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	apperrors "github.com/fox-techniques/plutus-pairtrading/internal/errors"
	"github.com/fox-techniques/plutus-pairtrading/internal/timeseries"
)

// TickerOptions controls ReadTickerFiles.
type TickerOptions struct {
	Options
	// ValueColumn keeps a single column from each file and renames it to
	// the ticker. Empty keeps every column as written.
	ValueColumn string
	// Join combines the files' date indexes. Empty means an inner join.
	Join timeseries.JoinKind
}

// ReadTickerFiles loads <dir>/<ticker>.csv for each ticker and joins them on
// date. Tickers without a file, or whose file cannot be read, are logged and
// skipped; at least one must load.
func ReadTickerFiles(dir string, tickers []string, opts TickerOptions) (*timeseries.Table, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewValueError(fmt.Sprintf("%s is not a directory", dir))
	}

	kind := opts.Join
	if kind == "" {
		kind = timeseries.InnerJoin
	}

	var tables []*timeseries.Table
	found := 0
	for _, ticker := range tickers {
		path := filepath.Join(dir, ticker+".csv")
		if _, err := os.Stat(path); stderrors.Is(err, os.ErrNotExist) {
			slog.Warn("No file for ticker", slog.String("ticker", ticker), slog.String("file_path", path))
			continue
		}
		found++

		t, err := LoadCSV(path, opts.Options)
		if err == nil && opts.ValueColumn != "" {
			t, err = renameColumn(t, opts.ValueColumn, ticker)
		}
		if err != nil {
			slog.Warn("Error reading ticker file",
				slog.String("ticker", ticker),
				slog.String("file_path", path),
				slog.String("error", err.Error()))
			continue
		}
		tables = append(tables, t)
	}

	if found == 0 {
		return nil, apperrors.NewValueError(fmt.Sprintf("no CSV files found for the given tickers in %s", dir))
	}
	if len(tables) == 0 {
		return nil, apperrors.NewValueError("no valid data could be read from the ticker files")
	}
	return timeseries.Join(kind, tables...)
}

func renameColumn(t *timeseries.Table, from, to string) (*timeseries.Table, error) {
	values, err := t.Column(from)
	if err != nil {
		return nil, err
	}
	return timeseries.New(t.Dates(), []string{to}, map[string][]float64{to: values})
}
