package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"licensekit/pkg/contracts/domain"
)

// HealthStatus is the health check response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Uptime    string                   `json:"uptime"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth is the health of one component
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthService reports liveness and component state
type HealthService struct {
	version   string
	client    ClientService
	issuer    IssuerService
	startTime time.Time
	logger    *slog.Logger
}

// NewHealthService creates a health service. client and issuer may be nil
// when that side is not served.
func NewHealthService(version string, client ClientService, issuer IssuerService, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		client:    client,
		issuer:    issuer,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// Liveness reports that the process is serving
func (s *HealthService) Liveness() *HealthStatus {
	return &HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
}

// Readiness checks the license and the registry. A license that is not valid
// makes the instance degraded, not down.
func (s *HealthService) Readiness(ctx context.Context) *HealthStatus {
	status := s.Liveness()
	status.Runtime = map[string]interface{}{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
	status.Services = map[string]ServiceHealth{}

	if s.client != nil {
		res, err := s.client.Status(ctx, false)
		switch {
		case err != nil:
			status.Services["license"] = ServiceHealth{Status: "error", Message: err.Error()}
			status.Status = "degraded"
		case res.Status != domain.StatusValid:
			status.Services["license"] = ServiceHealth{Status: string(res.Status), Message: res.Message}
			status.Status = "degraded"
		default:
			status.Services["license"] = ServiceHealth{Status: "valid"}
		}
	}

	if s.issuer != nil {
		if _, err := s.issuer.Stats(ctx); err != nil {
			s.logger.WarnContext(ctx, "registry health check failed", slog.String("error", err.Error()))
			status.Services["registry"] = ServiceHealth{Status: "error", Message: err.Error()}
			status.Status = "unhealthy"
		} else {
			status.Services["registry"] = ServiceHealth{Status: "ok"}
		}
	}
	return status
}
