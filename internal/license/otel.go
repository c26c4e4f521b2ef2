package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"licensekit/pkg/contracts/domain"
)

const (
	TracerName = "licensekit/license"
	MeterName  = "licensekit/license"
)

// LicenseMetrics holds the license lifecycle instruments. A nil *LicenseMetrics
// records nothing.
type LicenseMetrics struct {
	// Issuance
	LicensesIssued   metric.Int64Counter
	SigningFailures  metric.Int64Counter
	RegistryWarnings metric.Int64Counter

	// Validation
	Validations        metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	// Registry
	Revocations metric.Int64Counter

	// Fingerprint
	FingerprintDuration metric.Float64Histogram
	ProbeFailures       metric.Int64Counter
}

// NewLicenseMetrics creates the license instruments on meter
func NewLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	m := &LicenseMetrics{}
	var err error

	m.LicensesIssued, err = meter.Int64Counter(
		"license_issued_total",
		metric.WithDescription("Total number of licenses signed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create issued counter: %w", err)
	}

	m.SigningFailures, err = meter.Int64Counter(
		"license_signing_failures_total",
		metric.WithDescription("Total number of rejected or failed license generations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing failures counter: %w", err)
	}

	m.RegistryWarnings, err = meter.Int64Counter(
		"license_registry_record_failures_total",
		metric.WithDescription("Licenses written to disk that could not be recorded in the registry"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry warnings counter: %w", err)
	}

	m.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("Total number of license validations by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	m.Revocations, err = meter.Int64Counter(
		"license_revocations_total",
		metric.WithDescription("Total number of license revocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create revocations counter: %w", err)
	}

	m.FingerprintDuration, err = meter.Float64Histogram(
		"fingerprint_derivation_duration_seconds",
		metric.WithDescription("Hardware fingerprint derivation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint duration histogram: %w", err)
	}

	m.ProbeFailures, err = meter.Int64Counter(
		"fingerprint_probe_failures_total",
		metric.WithDescription("Hardware identifier probes that failed or timed out"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe failures counter: %w", err)
	}

	return m, nil
}

// RecordIssued counts a signed license
func (m *LicenseMetrics) RecordIssued(ctx context.Context, tier domain.LicenseType) {
	if m == nil {
		return
	}
	m.LicensesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("license.type", string(tier))))
}

// RecordSigningFailure counts a rejected generation request
func (m *LicenseMetrics) RecordSigningFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.SigningFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRegistryWarning counts a license that was not recorded
func (m *LicenseMetrics) RecordRegistryWarning(ctx context.Context) {
	if m == nil {
		return
	}
	m.RegistryWarnings.Add(ctx, 1)
}

// RecordValidation counts a validation outcome
func (m *LicenseMetrics) RecordValidation(ctx context.Context, status domain.ValidationStatus, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	m.Validations.Add(ctx, 1, attrs)
	m.ValidationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRevocation counts a revocation. Repeated revocations are labeled.
func (m *LicenseMetrics) RecordRevocation(ctx context.Context, alreadyRevoked bool) {
	if m == nil {
		return
	}
	m.Revocations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("already_revoked", alreadyRevoked)))
}

// ObserveFingerprint implements security.FingerprintObserver
func (m *LicenseMetrics) ObserveFingerprint(ctx context.Context, duration time.Duration, sources int, fallbackUsed bool) {
	if m == nil {
		return
	}
	m.FingerprintDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Int("sources", sources),
		attribute.Bool("fallback_used", fallbackUsed),
	))
}

// ObserveProbeFailure implements security.FingerprintObserver
func (m *LicenseMetrics) ObserveProbeFailure(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.ProbeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records the outcome on span and ends it
func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
