package license

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	apperrors "licensekit/internal/errors"
	"licensekit/internal/files"
	"licensekit/pkg/contracts/domain"
)

var hardwareIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// KeySource provides the signing key
type KeySource interface {
	PrivateKey() (*rsa.PrivateKey, error)
}

// Recorder stores issued licenses
type Recorder interface {
	Add(ctx context.Context, record domain.LicenseRecord) error
}

// GenerateRequest is the input for issuing a license
type GenerateRequest struct {
	Client      string `json:"client" validate:"required,max=200"`
	LicenseType string `json:"licenseType" validate:"required"`
	HardwareID  string `json:"hardwareId" validate:"required,hwid"`
	Expires     string `json:"expires,omitempty"`
	MaxUsers    *int   `json:"maxUsers,omitempty"`
	Notes       string `json:"notes,omitempty"`
	OutputPath  string `json:"outputPath,omitempty"`
}

// GenerateResult is the issued record plus any non-fatal problems
type GenerateResult struct {
	Record   domain.LicenseRecord `json:"record"`
	Warnings []string             `json:"warnings,omitempty"`
}

// Signer issues signed license artifacts
type Signer struct {
	keys      KeySource
	recorder  Recorder
	validate  *validator.Validate
	outputDir string
	location  *time.Location
	now       func() time.Time
	logger    *slog.Logger
	metrics   *LicenseMetrics
}

// SignerOption configures a Signer
type SignerOption func(*Signer)

// WithRecorder records every issued license, best effort
func WithRecorder(r Recorder) SignerOption {
	return func(s *Signer) { s.recorder = r }
}

// WithOutputDir sets where artifacts go when a request has no OutputPath
func WithOutputDir(dir string) SignerOption {
	return func(s *Signer) { s.outputDir = dir }
}

// WithSignerLocation sets the calendar used for default and minimum expiry dates
func WithSignerLocation(loc *time.Location) SignerOption {
	return func(s *Signer) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithSignerClock overrides the issuance time source
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// WithSignerLogger sets the signer logger
func WithSignerLogger(logger *slog.Logger) SignerOption {
	return func(s *Signer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSignerMetrics records issuance metrics
func WithSignerMetrics(m *LicenseMetrics) SignerOption {
	return func(s *Signer) { s.metrics = m }
}

// NewSigner creates a signer that loads its key from keys
func NewSigner(keys KeySource, opts ...SignerOption) *Signer {
	s := &Signer{
		keys:     keys,
		validate: NewRequestValidator(),
		location: time.Local,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "license_signer"))
	return s
}

// NewRequestValidator returns a validator with the hwid tag registered and
// JSON field names in errors
func NewRequestValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hwid", isHardwareID)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func isHardwareID(fl validator.FieldLevel) bool {
	return hardwareIDPattern.MatchString(fl.Field().String())
}

// ValidHardwareID reports whether s is a 64 character hex digest
func ValidHardwareID(s string) bool {
	return hardwareIDPattern.MatchString(s)
}

// Generate validates the request, signs the payload, writes the artifact and
// records it. Nothing is written when validation or signing fails.
func (s *Signer) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	ctx, span := startSpan(ctx, "license.generate",
		attribute.String("license.type", req.LicenseType))

	result, err := s.generate(ctx, req)
	if err != nil {
		s.metrics.RecordSigningFailure(ctx, signingFailureReason(err))
		s.logger.WarnContext(ctx, "license generation rejected",
			slog.String("client", req.Client),
			slog.String("license_type", req.LicenseType),
			slog.String("error", err.Error()))
		endSpan(span, err)
		return nil, err
	}

	s.metrics.RecordIssued(ctx, result.Record.LicenseType)
	endSpan(span, nil,
		attribute.String("license.id", result.Record.ID),
		attribute.Int("license.warnings", len(result.Warnings)))
	return result, nil
}

func (s *Signer) generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	req.Client = strings.TrimSpace(req.Client)
	req.HardwareID = strings.ToLower(strings.TrimSpace(req.HardwareID))

	if err := s.checkRequest(req); err != nil {
		return nil, err
	}

	licenseType, err := ParseLicenseType(req.LicenseType)
	if err != nil {
		return nil, err
	}
	tier, err := LookupTier(licenseType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expires, err := s.resolveExpiry(req.Expires, tier, now)
	if err != nil {
		return nil, err
	}

	maxUsers, err := tier.ResolveMaxUsers(req.MaxUsers)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	payload := domain.LicensePayload{
		Client:      req.Client,
		LicenseType: licenseType,
		HardwareID:  req.HardwareID,
		Expires:     expires,
		Version:     CurrentVersion,
		IssuedAt:    now.UTC().Format(domain.TimestampLayout),
		Features:    tier.FeatureList(),
		MaxUsers:    maxUsers,
	}

	signature, err := SignPayload(key, &payload)
	if err != nil {
		return nil, err
	}

	record := domain.LicenseRecord{
		ID:        PayloadID(&payload),
		License:   domain.License{LicensePayload: payload, Signature: signature},
		CreatedAt: now.UTC(),
		Notes:     req.Notes,
	}

	if path := s.artifactPath(req.OutputPath, record.ID); path != "" {
		if err := files.WriteJSONAtomic(path, record.License, 0644); err != nil {
			return nil, fmt.Errorf("failed to write license file: %w", err)
		}
		record.FilePath = path
	}

	result := &GenerateResult{Record: record}

	if s.recorder != nil {
		if err := s.recorder.Add(ctx, record); err != nil {
			s.metrics.RecordRegistryWarning(ctx)
			s.logger.WarnContext(ctx, "license issued but not recorded in registry",
				slog.String("license_id", record.ID),
				slog.String("error", err.Error()))
			result.Warnings = append(result.Warnings, fmt.Sprintf("registry update failed: %v", err))
		}
	}

	s.logger.InfoContext(ctx, "license issued",
		slog.String("license_id", record.ID),
		slog.String("client", payload.Client),
		slog.String("license_type", string(payload.LicenseType)),
		slog.String("expires", payload.Expires),
		slog.String("file", record.FilePath))

	return result, nil
}

func (s *Signer) checkRequest(req GenerateRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid request: %w", err)
	}

	fe := verrs[0]
	switch fe.StructField() {
	case "Client":
		return fmt.Errorf("client %s: %w", fe.Tag(), apperrors.ErrInvalidClient)
	case "HardwareID":
		return fmt.Errorf("hardware id must be 64 hex characters: %w", apperrors.ErrInvalidHardwareID)
	case "LicenseType":
		return fmt.Errorf("license type is required: %w", apperrors.ErrUnknownTier)
	default:
		return fmt.Errorf("invalid %s: %w", fe.Field(), err)
	}
}

func (s *Signer) resolveExpiry(requested string, tier Tier, now time.Time) (string, error) {
	today := now.In(s.location)
	if requested == "" {
		return today.AddDate(0, 0, tier.DefaultDays).Format(domain.DateLayout), nil
	}

	day, err := ParseDate(requested, s.location)
	if err != nil {
		return "", err
	}
	midnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, s.location)
	if day.Before(midnight) {
		return "", fmt.Errorf("%s is in the past: %w", requested, apperrors.ErrInvalidExpiration)
	}
	return requested, nil
}

func (s *Signer) artifactPath(requested, id string) string {
	if requested != "" {
		return requested
	}
	if s.outputDir == "" {
		return ""
	}
	return filepath.Join(s.outputDir, ArtifactFileName(id))
}

// ArtifactFileName is the default file name of an issued license
func ArtifactFileName(id string) string {
	return "license-" + id + ".json"
}

func signingFailureReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidClient):
		return "invalid_client"
	case errors.Is(err, apperrors.ErrInvalidHardwareID):
		return "invalid_hardware_id"
	case errors.Is(err, apperrors.ErrUnknownTier):
		return "unknown_tier"
	case errors.Is(err, apperrors.ErrInvalidExpiration):
		return "invalid_expiration"
	case errors.Is(err, apperrors.ErrInvalidMaxUsers):
		return "invalid_max_users"
	case errors.Is(err, apperrors.ErrKeyNotFound):
		return "key_not_found"
	default:
		return "internal"
	}
}
