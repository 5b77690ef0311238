// Package exporter renders the license table for download.
//
// Two formats are supported:
//
// WriteWorkbook produces an XLSX workbook with a "Licenses" sheet holding
// one row per record and a "Summary" sheet with counts by state.
//
// WriteCSV produces the same rows as CSV, optionally prefixed with a UTF-8
// BOM so spreadsheet programs detect the encoding.
//
// Example usage:
//
//	exp := exporter.New(time.UTC)
//	records, _ := store.List(ctx)
//	err := exp.WriteWorkbook(w, records)
package exporter
