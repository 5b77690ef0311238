package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"

	"licensesrv/internal/license"
)

// CSVOptions configures CSV writing behavior
type CSVOptions struct {
	BOMPrefix bool // Add UTF-8 BOM for Excel compatibility
}

// WriteCSV writes records as CSV with a header row.
func (e *Exporter) WriteCSV(w io.Writer, records []license.Record, opts CSVOptions) error {
	if opts.BOMPrefix {
		if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	rows := e.Rows(records)
	for i, row := range rows {
		if err := writer.Write(row.cells()); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}

	slog.Debug("CSV export written", slog.Int("record_count", len(rows)))
	return nil
}
