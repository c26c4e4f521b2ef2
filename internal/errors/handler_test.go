package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit/internal/shared/testutil"
	"licensekit/pkg/contracts/domain"
)

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantCode   string
	}{
		{
			name:       "wrapped hardware id error",
			err:        fmt.Errorf("generate license: %w", ErrInvalidHardwareID),
			wantStatus: http.StatusBadRequest,
			wantType:   TypeValidation,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "license not found",
			err:        ErrLicenseNotFound,
			wantStatus: http.StatusNotFound,
			wantType:   TypeLicenseNotFound,
			wantCode:   domain.ErrCodeLicenseNotFound,
		},
		{
			name:       "duplicate license",
			err:        ErrDuplicateLicense,
			wantStatus: http.StatusConflict,
			wantType:   TypeConflict,
			wantCode:   "DUPLICATE_LICENSE",
		},
		{
			name:       "corrupted registry",
			err:        fmt.Errorf("load registry: %w", ErrRegistryCorrupted),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeDataCorrupted,
			wantCode:   "REGISTRY_CORRUPTED",
		},
		{
			name:       "deadline exceeded",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   TypeTimeout,
		},
		{
			name:       "api error",
			err:        ErrRateLimitExceeded,
			wantStatus: http.StatusTooManyRequests,
			wantType:   TypeRateLimit,
			wantCode:   "RATE_LIMIT_EXCEEDED",
		},
		{
			name:       "unknown error",
			err:        fmt.Errorf("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeInternal,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			handler := NewErrorHandler(logger, false)

			req := httptest.NewRequest(http.MethodGet, "/api/registry/licenses", nil)
			rec := httptest.NewRecorder()
			handler.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, float64(tt.wantStatus), body["status"])
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error_code"])
			}
			assert.NotContains(t, body, "stack")
		})
	}
}

func TestErrorHandler_HandleErrorNil(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, true)

	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, 0, rec.Body.Len())
	assert.Equal(t, 0, handler.Count())
}

func TestErrorHandler_InternalErrorHidesDetail(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, true)

	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), fmt.Errorf("secret path /etc/keys"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body["detail"], "/etc/keys")
	assert.Contains(t, body, "stack")
	assert.True(t, logs.ContainsMessage("request failed"))
}

func TestErrorHandler_Middleware(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	panicking := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	panicking.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	testutil.AssertLogContains(t, logs, slog.LevelError, "panic recovered")
}

func TestNewLicenseStatusProblem(t *testing.T) {
	tests := []struct {
		status   domain.ValidationStatus
		wantHTTP int
		wantType string
		wantCode string
	}{
		{domain.StatusExpired, http.StatusForbidden, TypeLicenseExpired, domain.ErrCodeExpiredLicense},
		{domain.StatusRevoked, http.StatusForbidden, TypeLicenseRevoked, domain.ErrCodeRevokedLicense},
		{domain.StatusHardwareMismatch, http.StatusForbidden, TypeLicenseMismatch, domain.ErrCodeHardwareMismatch},
		{domain.StatusInvalidSignature, http.StatusForbidden, TypeLicenseInvalid, domain.ErrCodeInvalidLicense},
		{domain.StatusNotFound, http.StatusPreconditionRequired, TypeLicenseNotFound, domain.ErrCodeLicenseNotFound},
		{domain.StatusCorrupted, http.StatusForbidden, TypeLicenseCorrupted, domain.ErrCodeCorrupted},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			result := &domain.ValidationResult{Status: tt.status, LicenseID: "0123456789abcdef", Expires: "2025-01-10"}
			problem := NewLicenseStatusProblem(result, "trace-1")

			assert.Equal(t, tt.wantHTTP, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, tt.wantCode, problem.Extensions["error_code"])
			assert.Equal(t, string(tt.status), problem.Extensions["license_status"])
			assert.Equal(t, "0123456789abcdef", problem.Extensions["license_id"])
			assert.Contains(t, problem.Detail, string(tt.status))
		})
	}
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	problem := NewProblemDetails(http.StatusForbidden, TypeLicenseExpired, "License Expired", "", "/api/license").
		WithExtension("trace_id", "abc").
		WithExtension("type", "overridden")

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, TypeLicenseExpired, body["type"], "standard members win over extensions")
	assert.Equal(t, "abc", body["trace_id"])
	assert.NotContains(t, body, "detail")
	assert.Equal(t, "/api/license", body["instance"])
}

func TestMapLicenseError(t *testing.T) {
	rendered := MapLicenseError(fmt.Errorf("revoke: %w", ErrLicenseNotFound), "t1")
	problem, ok := rendered.(*ProblemDetails)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, problem.Status)
	assert.Equal(t, "t1", problem.Extensions["trace_id"])


	rendered = MapLicenseError(ErrRateLimitExceeded, "t2")
	problem, ok = rendered.(*ProblemDetails)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, problem.Status)
	assert.Equal(t, TypeRateLimit, problem.Type)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", problem.Extensions["error_code"])
}
