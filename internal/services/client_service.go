package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"licensekit/internal/infrastructure"
	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// FingerprintSource derives this machine's identity
type FingerprintSource interface {
	HardwareID(ctx context.Context) (string, error)
	Fingerprint(ctx context.Context) (*domain.HardwareFingerprint, error)
	Refresh(ctx context.Context) (*domain.HardwareFingerprint, error)
}

// LicenseStatusResponse is the client-side license status
type LicenseStatusResponse struct {
	*domain.ValidationResult
	LicensePath string `json:"licensePath"`
	Cached      bool   `json:"cached"`
	TraceID     string `json:"traceId,omitempty"`
}

// ClientService validates the installed license
type ClientService interface {
	// Status validates the license file. Non-verbose results are cached for
	// the configured TTL.
	Status(ctx context.Context, verbose bool) (*LicenseStatusResponse, error)
	// Fingerprint returns this machine's hardware fingerprint
	Fingerprint(ctx context.Context, refresh bool) (*domain.HardwareFingerprint, error)
	// InvalidateCache drops the cached status
	InvalidateCache(ctx context.Context)
}

// ClientConfig configures NewClientService
type ClientConfig struct {
	LicensePath   string
	CheckHardware bool
	CacheTTL      time.Duration
}

type clientService struct {
	validator    *license.Validator
	fingerprints FingerprintSource
	cfg          ClientConfig
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.Mutex
	cached   *domain.ValidationResult
	cachedAt time.Time
}

// NewClientService creates a client service
func NewClientService(validator *license.Validator, fingerprints FingerprintSource, cfg ClientConfig, logger *slog.Logger) ClientService {
	if logger == nil {
		logger = slog.Default()
	}
	return &clientService{
		validator:    validator,
		fingerprints: fingerprints,
		cfg:          cfg,
		now:          time.Now,
		logger:       logger.With(slog.String("service", "license_client")),
	}
}

func (s *clientService) Status(ctx context.Context, verbose bool) (*LicenseStatusResponse, error) {
	traceID := infrastructure.GetTraceID(ctx)

	if !verbose {
		if result, ok := s.fromCache(); ok {
			return &LicenseStatusResponse{ValidationResult: result, LicensePath: s.cfg.LicensePath, Cached: true, TraceID: traceID}, nil
		}
	}

	opts := license.Options{Verbose: verbose}
	var result *domain.ValidationResult
	if s.cfg.CheckHardware && s.fingerprints != nil {
		result = s.validator.ValidateForHost(ctx, s.cfg.LicensePath, s.fingerprints, opts)
	} else {
		result = s.validator.ValidateFile(ctx, s.cfg.LicensePath, opts)
	}

	if !verbose {
		s.store(result)
	}

	s.logger.DebugContext(ctx, "license status checked",
		slog.String("status", string(result.Status)),
		slog.Bool("verbose", verbose),
		slog.String("trace_id", traceID))

	return &LicenseStatusResponse{ValidationResult: result, LicensePath: s.cfg.LicensePath, TraceID: traceID}, nil
}

func (s *clientService) Fingerprint(ctx context.Context, refresh bool) (*domain.HardwareFingerprint, error) {
	if refresh {
		fp, err := s.fingerprints.Refresh(ctx)
		if err == nil {
			s.InvalidateCache(ctx)
		}
		return fp, err
	}
	return s.fingerprints.Fingerprint(ctx)
}

func (s *clientService) InvalidateCache(ctx context.Context) {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
	s.logger.DebugContext(ctx, "license status cache invalidated")
}

func (s *clientService) fromCache() (*domain.ValidationResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil || s.cfg.CacheTTL <= 0 || s.now().Sub(s.cachedAt) >= s.cfg.CacheTTL {
		return nil, false
	}
	copied := *s.cached
	return &copied, true
}

func (s *clientService) store(result *domain.ValidationResult) {
	if s.cfg.CacheTTL <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *result
	s.cached = &copied
	s.cachedAt = s.now()
}
