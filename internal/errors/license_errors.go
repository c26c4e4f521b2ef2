package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"licensekit/pkg/contracts/domain"
)

// Sentinel errors shared by the issuer and the validating client
var (
	// Key material
	ErrKeyNotFound      = errors.New("signing key not found")
	ErrKeysExist        = errors.New("key pair already exists")
	ErrInvalidKey       = errors.New("invalid key material")
	ErrPublicKeyMissing = errors.New("public key missing")

	// Issuance input
	ErrInvalidClient      = errors.New("client name is required")
	ErrInvalidHardwareID  = errors.New("invalid hardware id")
	ErrUnknownTier        = errors.New("unknown license type")
	ErrInvalidExpiration  = errors.New("invalid expiration date")
	ErrInvalidMaxUsers    = errors.New("invalid max users")
	ErrUnsupportedVersion = errors.New("unsupported payload version")

	// Registry
	ErrLicenseNotFound    = errors.New("license not found")
	ErrDuplicateLicense   = errors.New("duplicate license id")
	ErrRegistryCorrupted  = errors.New("registry corrupted")
	ErrBlacklistCorrupted = errors.New("blacklist corrupted")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions next to the standard members
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, len(pd.Extensions)+5)
	for k, v := range pd.Extensions {
		data[k] = v
	}
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// statusProblems maps non-valid validation outcomes to their problem shape
var statusProblems = map[domain.ValidationStatus]struct {
	problemType string
	title       string
	code        string
	httpStatus  int
}{
	domain.StatusExpired:          {TypeLicenseExpired, "License Expired", domain.ErrCodeExpiredLicense, http.StatusForbidden},
	domain.StatusInvalidSignature: {TypeLicenseInvalid, "Invalid License Signature", domain.ErrCodeInvalidLicense, http.StatusForbidden},
	domain.StatusHardwareMismatch: {TypeLicenseMismatch, "License Hardware Mismatch", domain.ErrCodeHardwareMismatch, http.StatusForbidden},
	domain.StatusRevoked:          {TypeLicenseRevoked, "License Revoked", domain.ErrCodeRevokedLicense, http.StatusForbidden},
	domain.StatusNotFound:         {TypeLicenseNotFound, "License Not Found", domain.ErrCodeLicenseNotFound, http.StatusPreconditionRequired},
	domain.StatusCorrupted:        {TypeLicenseCorrupted, "License Corrupted", domain.ErrCodeCorrupted, http.StatusForbidden},
}

// NewLicenseStatusProblem builds the problem returned when a guarded request
// is rejected because the local license did not validate
func NewLicenseStatusProblem(result *domain.ValidationResult, traceID string) *ProblemDetails {
	sp, ok := statusProblems[result.Status]
	if !ok {
		sp = statusProblems[domain.StatusCorrupted]
	}

	detail := result.Message
	if detail == "" {
		detail = fmt.Sprintf("license validation returned %s", result.Status)
	}

	problem := NewProblemDetails(
		sp.httpStatus,
		sp.problemType,
		sp.title,
		detail,
		fmt.Sprintf("/api/license#trace-%s", traceID),
	).WithExtension("trace_id", traceID).
		WithExtension("error_code", sp.code).
		WithExtension("license_status", string(result.Status))

	if result.LicenseID != "" {
		problem.WithExtension("license_id", result.LicenseID)
	}
	if result.Expires != "" {
		problem.WithExtension("expires", result.Expires)
	}
	return problem
}

// MapLicenseError maps domain errors to HTTP problem details
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/registry#trace-%s", traceID)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		problem := NewProblemDetails(apiErr.StatusCode, apiErrorType(apiErr.StatusCode), http.StatusText(apiErr.StatusCode), apiErr.Message, instance).
			WithExtension("trace_id", traceID).
			WithExtension("error_code", apiErr.ErrorCode)
		if apiErr.Details != nil {
			problem.WithExtension("details", apiErr.Details)
		}
		return problem
	}

	status, problemType, code := classify(err)
	return NewProblemDetails(status, problemType, http.StatusText(status), err.Error(), instance).
		WithExtension("trace_id", traceID).
		WithExtension("error_code", code)
}

func apiErrorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return TypeNotFound
	case status == http.StatusTooManyRequests:
		return TypeRateLimit
	case status >= 400 && status < 500:
		return TypeValidation
	default:
		return TypeInternal
	}
}

// classify resolves the HTTP status, problem type and error code for a sentinel
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrInvalidClient),
		errors.Is(err, ErrInvalidHardwareID),
		errors.Is(err, ErrUnknownTier),
		errors.Is(err, ErrInvalidExpiration),
		errors.Is(err, ErrInvalidMaxUsers):
		return http.StatusBadRequest, TypeValidation, "VALIDATION_FAILED"
	case errors.Is(err, ErrUnsupportedVersion):
		return http.StatusUnprocessableEntity, TypeValidation, "UNSUPPORTED_VERSION"
	case errors.Is(err, ErrLicenseNotFound):
		return http.StatusNotFound, TypeLicenseNotFound, domain.ErrCodeLicenseNotFound
	case errors.Is(err, ErrDuplicateLicense):
		return http.StatusConflict, TypeConflict, "DUPLICATE_LICENSE"
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrPublicKeyMissing):
		return http.StatusServiceUnavailable, TypeServiceDown, "KEY_NOT_AVAILABLE"
	case errors.Is(err, ErrRegistryCorrupted), errors.Is(err, ErrBlacklistCorrupted):
		return http.StatusInternalServerError, TypeDataCorrupted, "REGISTRY_CORRUPTED"
	default:
		return http.StatusInternalServerError, TypeInternal, "INTERNAL_ERROR"
	}
}
