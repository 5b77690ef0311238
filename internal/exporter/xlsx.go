package exporter

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"licensesrv/internal/license"
)

// Sheet names of the exported workbook.
const (
	LicensesSheet = "Licenses"
	SummarySheet  = "Summary"
)

// ContentTypeXLSX is the media type of WriteWorkbook output.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var columnWidths = []float64{28, 30, 26, 10, 16, 10, 28, 40, 22}

// WriteWorkbook writes records as an XLSX workbook.
func (e *Exporter) WriteWorkbook(w io.Writer, records []license.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), LicensesSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, LicensesSheet, 1, toValues(Headers)); err != nil {
		return err
	}
	rows := e.Rows(records)
	for i, row := range rows {
		values := toValues(row.cells())
		if row.DaysLeft != nil {
			values[5] = *row.DaysLeft
		}
		if err := writeRow(f, LicensesSheet, i+2, values); err != nil {
			return err
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(Headers))
	if err := f.SetCellStyle(LicensesSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(LicensesSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	if err := f.SetPanes(LicensesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := e.writeSummary(f, rows, headerStyle); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	slog.Debug("workbook export written", slog.Int("record_count", len(rows)))
	return nil
}

func (e *Exporter) writeSummary(f *excelize.File, rows []Row, headerStyle int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to add summary sheet: %w", err)
	}
	counts := Summary(rows)
	lines := [][]interface{}{
		{"State", "Count"},
		{StateActive, counts[StateActive]},
		{StateExpired, counts[StateExpired]},
		{StateDisabled, counts[StateDisabled]},
		{StateUnknown, counts[StateUnknown]},
		{"total", len(rows)},
		{"generated_at", e.now().UTC().Format(time.RFC3339)},
	}
	for i, line := range lines {
		if err := writeRow(f, SummarySheet, i+1, line); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func toValues(cells []string) []interface{} {
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	return values
}
