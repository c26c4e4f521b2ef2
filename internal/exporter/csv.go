package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVOptions configures CSV output
type CSVOptions struct {
	BOMPrefix bool // UTF-8 BOM for Excel compatibility
}

// WriteCSV writes the license listing as CSV
func WriteCSV(w io.Writer, r *Report, opts CSVOptions) error {
	if opts.BOMPrefix {
		if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, row := range r.Rows() {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}
