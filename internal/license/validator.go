package license

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "licensekit/internal/errors"
	"licensekit/pkg/contracts/domain"
)

// Stage names, in pipeline order
const (
	StageParseFile       = "parse_file"
	StageVerifySignature = "verify_signature"
	StageCheckExpiry     = "check_expiry"
	StageCheckHardware   = "check_hardware"
	StageCheckBlacklist  = "check_blacklist"
	StageCheckRegistry   = "check_registry"
)

var stageOrder = []string{
	StageParseFile,
	StageVerifySignature,
	StageCheckExpiry,
	StageCheckHardware,
	StageCheckBlacklist,
	StageCheckRegistry,
}

var statusMessages = map[domain.ValidationStatus]string{
	domain.StatusValid:            "license is valid",
	domain.StatusExpired:          "license has expired",
	domain.StatusInvalidSignature: "license signature is invalid",
	domain.StatusHardwareMismatch: "license is bound to a different machine",
	domain.StatusRevoked:          "license has been revoked",
	domain.StatusNotFound:         "license file not found",
	domain.StatusCorrupted:        "license file is corrupted",
}

// RegistryLookup resolves a license id in a local registry mirror
type RegistryLookup interface {
	GetByID(ctx context.Context, id string) (*domain.LicenseRecord, error)
}

// HardwareIDSource yields the hardware id of the current machine
type HardwareIDSource interface {
	HardwareID(ctx context.Context) (string, error)
}

// Options control a single validation
type Options struct {
	// ExpectedHardwareID enables the hardware stage when set
	ExpectedHardwareID string
	// HardwareUnavailable fails the hardware stage with this error when the
	// host id could not be derived
	HardwareUnavailable error
	// Verbose runs every stage and attaches the per-stage summary
	Verbose bool
}

// Validator verifies license artifacts offline. It is safe for concurrent use.
type Validator struct {
	publicKey *rsa.PublicKey
	blacklist BlacklistSource
	registry  RegistryLookup
	location  *time.Location
	now       func() time.Time
	logger    *slog.Logger
	metrics   *LicenseMetrics
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithBlacklist sets the revocation snapshot source
func WithBlacklist(src BlacklistSource) ValidatorOption {
	return func(v *Validator) {
		if src != nil {
			v.blacklist = src
		}
	}
}

// WithRegistryLookup enables the informational registry stage
func WithRegistryLookup(r RegistryLookup) ValidatorOption {
	return func(v *Validator) { v.registry = r }
}

// WithLocation sets the calendar expiry dates are read in
func WithLocation(loc *time.Location) ValidatorOption {
	return func(v *Validator) {
		if loc != nil {
			v.location = loc
		}
	}
}

// WithClock overrides the validation time source
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the validator logger
func WithLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetrics records validation metrics
func WithMetrics(m *LicenseMetrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a validator for licenses signed by the holder of
// publicKey's private half
func NewValidator(publicKey *rsa.PublicKey, opts ...ValidatorOption) (*Validator, error) {
	if publicKey == nil {
		return nil, apperrors.ErrPublicKeyMissing
	}
	v := &Validator{
		publicKey: publicKey,
		blacklist: NewBlacklist(nil),
		location:  time.Local,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(slog.String("component", "license_validator"))
	return v, nil
}

// ValidateFile validates the license at path. A missing file is not_found.
func (v *Validator) ValidateFile(ctx context.Context, path string, opts Options) *domain.ValidationResult {
	data, err := os.ReadFile(path)
	if err != nil {
		status := domain.StatusCorrupted
		if errors.Is(err, fs.ErrNotExist) {
			status = domain.StatusNotFound
		}
		result := &domain.ValidationResult{
			Status:    status,
			Message:   fmt.Sprintf("%s: %v", statusMessages[status], err),
			CheckedAt: v.now().UTC(),
		}
		if opts.Verbose {
			result.Stages = append([]domain.StageResult{{
				Stage: StageParseFile, Status: status, Detail: err.Error(),
			}}, skippedStages(StageParseFile)...)
		}
		v.observe(ctx, result, 0)
		return result
	}
	return v.Validate(ctx, data, opts)
}

// ValidateForHost validates the license at path against this machine's
// hardware id. If the id cannot be derived the hardware stage fails with
// hardware_mismatch.
func (v *Validator) ValidateForHost(ctx context.Context, path string, host HardwareIDSource, opts Options) *domain.ValidationResult {
	hwid, err := host.HardwareID(ctx)
	if err == nil && hwid == "" {
		err = errors.New("empty hardware id")
	}
	if err != nil {
		v.logger.WarnContext(ctx, "hardware id unavailable", slog.String("error", err.Error()))
		opts.ExpectedHardwareID = ""
		opts.HardwareUnavailable = fmt.Errorf("hardware id of this machine could not be derived: %w", err)
		return v.ValidateFile(ctx, path, opts)
	}
	opts.ExpectedHardwareID = hwid
	return v.ValidateFile(ctx, path, opts)
}

// Validate runs the license bytes through the pipeline. It never returns an
// error: every failure is a status.
func (v *Validator) Validate(ctx context.Context, data []byte, opts Options) *domain.ValidationResult {
	start := time.Now()
	ctx, span := startSpan(ctx, "license.validate", attribute.Bool("license.verbose", opts.Verbose))

	result := v.evaluate(ctx, data, opts)
	if !result.IsValid() {
		// entitlements of a rejected license are not reported
		result.Features = nil
		result.MaxUsers = nil
		result.DaysRemaining = nil
	}

	v.observe(ctx, result, time.Since(start))
	endSpan(span, nil,
		attribute.String("license.status", string(result.Status)),
		attribute.String("license.id", result.LicenseID))
	return result
}

func (v *Validator) observe(ctx context.Context, result *domain.ValidationResult, duration time.Duration) {
	v.metrics.RecordValidation(ctx, result.Status, duration)

	attrs := []any{
		slog.String("status", string(result.Status)),
		slog.String("license_id", result.LicenseID),
	}
	if result.Status == domain.StatusValid {
		v.logger.DebugContext(ctx, "license validated", attrs...)
		return
	}
	v.logger.InfoContext(ctx, "license rejected", append(attrs, slog.String("reason", result.Message))...)
}

// pipeline tracks the first failure and, in verbose mode, every stage
type pipeline struct {
	verbose bool
	result  *domain.ValidationResult
	failed  bool
}

// check records a stage outcome and reports whether the pipeline may continue
func (p *pipeline) check(stage string, err error, failStatus domain.ValidationStatus) bool {
	if err == nil {
		p.record(domain.StageResult{Stage: stage, Passed: true})
		return true
	}
	if !p.failed {
		p.failed = true
		p.result.Status = failStatus
		p.result.Message = fmt.Sprintf("%s: %v", statusMessages[failStatus], err)
	}
	p.record(domain.StageResult{Stage: stage, Status: failStatus, Detail: err.Error()})
	return p.verbose
}

func (p *pipeline) record(s domain.StageResult) {
	if p.verbose {
		p.result.Stages = append(p.result.Stages, s)
	}
}

func (p *pipeline) skip(stage, detail string) {
	p.record(domain.StageResult{Stage: stage, Skipped: true, Detail: detail})
}

func (v *Validator) evaluate(ctx context.Context, data []byte, opts Options) *domain.ValidationResult {
	now := v.now()
	p := &pipeline{
		verbose: opts.Verbose,
		result: &domain.ValidationResult{
			Status:    domain.StatusValid,
			CheckedAt: now.UTC(),
		},
	}

	lic, err := ParseLicense(data, v.location)
	if !p.check(StageParseFile, err, domain.StatusCorrupted) || lic == nil {
		if p.verbose {
			p.result.Stages = append(p.result.Stages, skippedStages(StageParseFile)...)
		}
		return p.result
	}
	describe(p.result, lic)

	if !p.check(StageVerifySignature, VerifySignature(v.publicKey, lic), domain.StatusInvalidSignature) {
		return p.result
	}

	end, _ := ExpiresAt(lic.Expires, v.location)
	var expiryErr error
	if now.After(end) {
		expiryErr = fmt.Errorf("expired on %s", lic.Expires)
	}
	if !p.check(StageCheckExpiry, expiryErr, domain.StatusExpired) {
		return p.result
	}
	if expiryErr == nil {
		days := DaysRemaining(end, now)
		p.result.DaysRemaining = &days
	}

	switch {
	case opts.HardwareUnavailable != nil:
		if !p.check(StageCheckHardware, opts.HardwareUnavailable, domain.StatusHardwareMismatch) {
			return p.result
		}
	case opts.ExpectedHardwareID == "":
		p.skip(StageCheckHardware, "no expected hardware id")
	default:
		var hwErr error
		if lic.HardwareID != opts.ExpectedHardwareID {
			hwErr = errors.New("hardware id does not match this machine")
		}
		if !p.check(StageCheckHardware, hwErr, domain.StatusHardwareMismatch) {
			return p.result
		}
	}

	var revokedErr error
	if v.blacklist.Snapshot().Contains(p.result.LicenseID) {
		revokedErr = fmt.Errorf("license id %s is blacklisted", p.result.LicenseID)
	}
	if !p.check(StageCheckBlacklist, revokedErr, domain.StatusRevoked) {
		return p.result
	}

	v.checkRegistry(ctx, p)

	if !p.failed {
		p.result.Message = statusMessages[domain.StatusValid]
	}
	return p.result
}

// checkRegistry is informational: it never changes the status
func (v *Validator) checkRegistry(ctx context.Context, p *pipeline) {
	if v.registry == nil {
		p.skip(StageCheckRegistry, "no registry available")
		return
	}

	record, err := v.registry.GetByID(ctx, p.result.LicenseID)
	switch {
	case err == nil && record != nil:
		found := true
		p.result.RegistryFound = &found
		detail := "license found in registry"
		if record.Revoked {
			detail = "registry marks this license revoked; blacklist export may be stale"
		}
		p.record(domain.StageResult{Stage: StageCheckRegistry, Passed: true, Detail: detail})
	case err == nil || errors.Is(err, apperrors.ErrLicenseNotFound):
		found := false
		p.result.RegistryFound = &found
		p.record(domain.StageResult{Stage: StageCheckRegistry, Passed: true, Status: domain.StatusNotFound, Detail: "license id not present in registry"})
	default:
		v.logger.WarnContext(ctx, "registry lookup failed",
			slog.String("license_id", p.result.LicenseID),
			slog.String("error", err.Error()))
		p.record(domain.StageResult{Stage: StageCheckRegistry, Passed: true, Detail: "registry lookup failed: " + err.Error()})
	}
}

func describe(r *domain.ValidationResult, lic *domain.License) {
	r.LicenseID = PayloadID(&lic.LicensePayload)
	r.Client = lic.Client
	r.LicenseType = lic.LicenseType
	r.Features = append([]string(nil), lic.Features...)
	r.MaxUsers = lic.MaxUsers
	r.Expires = lic.Expires
}

func skippedStages(after string) []domain.StageResult {
	var out []domain.StageResult
	seen := false
	for _, stage := range stageOrder {
		if seen {
			out = append(out, domain.StageResult{Stage: stage, Skipped: true, Detail: "requires a parsed license"})
		}
		if stage == after {
			seen = true
		}
	}
	return out
}

// requiredFields must be present in every artifact
var requiredFields = []string{"client", "licenseType", "hardwareId", "expires", "version", "issuedAt", "features", "signature"}

// ParseLicense decodes an artifact and checks its shape. Every error wraps
// ErrLicenseCorrupted.
func ParseLicense(data []byte, loc *time.Location) (*domain.License, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", ErrLicenseCorrupted)
	}
	for _, name := range requiredFields {
		raw, ok := fields[name]
		if !ok || string(raw) == "null" {
			return nil, fmt.Errorf("missing field %q: %w", name, ErrLicenseCorrupted)
		}
	}

	var lic domain.License
	if err := json.Unmarshal(data, &lic); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrLicenseCorrupted)
	}

	switch {
	case lic.Client == "" || lic.LicenseType == "" || lic.Signature == "":
		return nil, fmt.Errorf("empty required field: %w", ErrLicenseCorrupted)
	case !ValidHardwareID(lic.HardwareID):
		return nil, fmt.Errorf("malformed hardware id: %w", ErrLicenseCorrupted)
	case !SupportedVersion(lic.Version):
		return nil, fmt.Errorf("version %q: %w", lic.Version, ErrLicenseCorrupted)
	}
	if _, err := ParseDate(lic.Expires, loc); err != nil {
		return nil, fmt.Errorf("malformed expiry: %w", ErrLicenseCorrupted)
	}
	return &lic, nil
}
