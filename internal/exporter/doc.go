// Package exporter renders registry reports for the issuer.
//
// Two formats are supported:
//
// CSV: one row per license, UTF-8 with an optional BOM so spreadsheet tools
// detect the encoding.
//
// XLSX: a "Licenses" sheet with the same rows and a "Summary" sheet with the
// registry statistics.
//
// Example usage:
//
//	report := exporter.NewReport(records, stats, time.Now(), time.Local)
//	err := exporter.Write(w, exporter.FormatXLSX, report)
package exporter
