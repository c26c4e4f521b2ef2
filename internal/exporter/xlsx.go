package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"licensekit/pkg/contracts/domain"
)

const (
	sheetLicenses = "Licenses"
	sheetSummary  = "Summary"
)

// WriteXLSX writes the listing and a summary sheet as an Excel workbook
func WriteXLSX(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetLicenses); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, sheetLicenses, 1, toCells(Columns)); err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(Columns))
	if err := f.SetCellStyle(sheetLicenses, "A1", lastCol+"1", header); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	for i, row := range r.Rows() {
		if err := writeRow(f, sheetLicenses, i+2, toCells(row)); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetLicenses, "A", "A", 20); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(sheetLicenses, "D", "D", 68); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetPanes(sheetLicenses, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	summary := [][]interface{}{
		{"Generated At", formatTime(r.GeneratedAt)},
		{"Total", r.Stats.Total},
		{"Active", r.Stats.Active},
		{"Expired", r.Stats.Expired},
		{"Revoked", r.Stats.Revoked},
		{},
		{"Tier", "Licenses"},
	}
	for _, tier := range domain.AllLicenseTypes {
		summary = append(summary, []interface{}{string(tier), r.Stats.ByTier[tier]})
	}
	for i, row := range summary {
		if err := writeRow(f, sheetSummary, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheetSummary, "A7", "B7", header); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}
	if err := f.SetColWidth(sheetSummary, "A", "A", 16); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toCells(row []string) []interface{} {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}
