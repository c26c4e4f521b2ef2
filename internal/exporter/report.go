package exporter

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"licensekit/internal/files"
	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// Columns of the license listing
var Columns = []string{
	"ID", "Client", "Type", "Hardware ID", "Expires", "Status", "Max Users",
	"Features", "Issued At", "Created At", "Revoked At", "Revoke Reason", "Notes", "File",
}

// Report is the data behind an export
type Report struct {
	Records     []domain.LicenseRecord
	Stats       *domain.RegistryStats
	GeneratedAt time.Time
	location    *time.Location
}

// NewReport prepares a report. loc decides which licenses count as expired.
func NewReport(records []domain.LicenseRecord, stats *domain.RegistryStats, generatedAt time.Time, loc *time.Location) *Report {
	if loc == nil {
		loc = time.Local
	}
	if stats == nil {
		stats = &domain.RegistryStats{ByTier: map[domain.LicenseType]int{}}
	}
	return &Report{Records: records, Stats: stats, GeneratedAt: generatedAt, location: loc}
}

// Status returns the display status of a record at the report time
func (r *Report) Status(rec domain.LicenseRecord) string {
	switch {
	case rec.Revoked:
		return "revoked"
	case license.IsExpired(rec.Expires, r.location, r.GeneratedAt):
		return "expired"
	default:
		return "active"
	}
}

// Rows returns one string row per record, matching Columns
func (r *Report) Rows() [][]string {
	rows := make([][]string, 0, len(r.Records))
	for _, rec := range r.Records {
		rows = append(rows, []string{
			rec.ID,
			rec.Client,
			string(rec.LicenseType),
			rec.HardwareID,
			rec.Expires,
			r.Status(rec),
			formatOptionalInt(rec.MaxUsers),
			strings.Join(rec.Features, ";"),
			rec.IssuedAt,
			formatTime(rec.CreatedAt),
			formatOptionalTime(rec.RevokedAt),
			rec.RevokeReason,
			rec.Notes,
			rec.FilePath,
		})
	}
	return rows
}

// Write renders the report in the given format
func Write(w io.Writer, format Format, r *Report) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, r, CSVOptions{BOMPrefix: true})
	case FormatXLSX:
		return WriteXLSX(w, r)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteFile renders the report and replaces path atomically
func WriteFile(path string, format Format, r *Report) error {
	var buf bytes.Buffer
	if err := Write(&buf, format, r); err != nil {
		return err
	}
	if err := files.WriteAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// FileName is the default report file name for a generation time
func FileName(format Format, at time.Time) string {
	return "license-report-" + at.UTC().Format("20060102-150405") + format.Extension()
}
