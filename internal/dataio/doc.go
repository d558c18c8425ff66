// Package dataio moves price tables between files and timeseries.Table.
//
// Input files hold one row per date: a date column (named "date" unless
// configured otherwise) and one numeric column per security. CSV and XLSX
// share the layout; empty cells and NA markers load as NaN, and rows are
// sorted by date. ReadTickerFiles joins a directory of per-ticker CSV files.
//
// WriteCSV writes a table back in the same layout and WriteCandidates
// exports the ranked pairs of a report as CSV or XLSX.
package dataio
