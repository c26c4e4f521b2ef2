package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"licensekit/internal/exporter"
	"licensekit/internal/license"
	"licensekit/internal/registry"
	"licensekit/pkg/contracts/domain"
)

// IssuerService is the issuer-side facade over signing and the registry
type IssuerService interface {
	Generate(ctx context.Context, req license.GenerateRequest) (*license.GenerateResult, error)
	List(ctx context.Context, filter registry.Filter) ([]domain.LicenseRecord, error)
	Get(ctx context.Context, id string) (*domain.LicenseRecord, error)
	Revoke(ctx context.Context, id, reason string) (*registry.RevokeResult, error)
	ExportBlacklist(ctx context.Context) ([]string, error)
	// WriteBlacklist writes the export to path, or to the configured path when empty
	WriteBlacklist(ctx context.Context, path string) (string, int, error)
	Stats(ctx context.Context) (*domain.RegistryStats, error)
	// Export renders a registry report
	Export(ctx context.Context, w io.Writer, format exporter.Format, filter registry.Filter) error
	// ExportFile writes a report into the reports directory, or to path when set
	ExportFile(ctx context.Context, format exporter.Format, path string) (string, error)
}

// IssuerConfig configures NewIssuerService
type IssuerConfig struct {
	BlacklistPath string
	ReportsDir    string
	Location      *time.Location
}

type issuerService struct {
	signer   *license.Signer
	registry *registry.Registry
	cfg      IssuerConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewIssuerService creates an issuer service
func NewIssuerService(signer *license.Signer, reg *registry.Registry, cfg IssuerConfig, logger *slog.Logger) IssuerService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &issuerService{
		signer:   signer,
		registry: reg,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("service", "license_issuer")),
	}
}

func (s *issuerService) Generate(ctx context.Context, req license.GenerateRequest) (*license.GenerateResult, error) {
	return s.signer.Generate(ctx, req)
}

func (s *issuerService) List(ctx context.Context, filter registry.Filter) ([]domain.LicenseRecord, error) {
	return s.registry.Query(ctx, filter)
}

func (s *issuerService) Get(ctx context.Context, id string) (*domain.LicenseRecord, error) {
	return s.registry.GetByID(ctx, id)
}

func (s *issuerService) Revoke(ctx context.Context, id, reason string) (*registry.RevokeResult, error) {
	return s.registry.Revoke(ctx, id, reason)
}

func (s *issuerService) ExportBlacklist(ctx context.Context) ([]string, error) {
	return s.registry.ExportBlacklist(ctx)
}

func (s *issuerService) WriteBlacklist(ctx context.Context, path string) (string, int, error) {
	if path == "" {
		path = s.cfg.BlacklistPath
	}
	if path == "" {
		return "", 0, fmt.Errorf("no blacklist path configured")
	}
	n, err := s.registry.WriteBlacklist(ctx, path)
	return path, n, err
}

func (s *issuerService) Stats(ctx context.Context) (*domain.RegistryStats, error) {
	return s.registry.Stats(ctx)
}

func (s *issuerService) Export(ctx context.Context, w io.Writer, format exporter.Format, filter registry.Filter) error {
	report, err := s.report(ctx, filter)
	if err != nil {
		return err
	}
	return exporter.Write(w, format, report)
}

func (s *issuerService) ExportFile(ctx context.Context, format exporter.Format, path string) (string, error) {
	report, err := s.report(ctx, registry.Filter{})
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(s.cfg.ReportsDir, exporter.FileName(format, report.GeneratedAt))
	}
	if err := exporter.WriteFile(path, format, report); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "registry report exported",
		slog.String("path", path),
		slog.String("format", string(format)),
		slog.Int("licenses", len(report.Records)))
	return path, nil
}

func (s *issuerService) report(ctx context.Context, filter registry.Filter) (*exporter.Report, error) {
	records, err := s.registry.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	stats, err := s.registry.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return exporter.NewReport(records, stats, s.now(), s.cfg.Location), nil
}
