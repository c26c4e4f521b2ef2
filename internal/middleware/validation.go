package middleware

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "licensekit/internal/errors"
	"licensekit/internal/license"
)

// DefaultMaxBodySize bounds JSON request bodies
const DefaultMaxBodySize = 1 << 20

// RequestValidator decodes JSON bodies and validates them with struct tags
type RequestValidator struct {
	validate    *validator.Validate
	logger      *slog.Logger
	maxBodySize int64
}

// NewRequestValidator creates a validator that knows the hwid tag
func NewRequestValidator(logger *slog.Logger) *RequestValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestValidator{
		validate:    license.NewRequestValidator(),
		logger:      logger.With(slog.String("component", "request_validator")),
		maxBodySize: DefaultMaxBodySize,
	}
}

// Decode reads the body of r into dst and validates it. The returned error is
// an *errors.APIError ready to render.
func (v *RequestValidator) Decode(r *http.Request, dst interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return apierrors.NewWithDetails(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE",
			"Request body must be application/json", ct)
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, v.maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		v.logger.DebugContext(r.Context(), "request body rejected",
			slog.String("trace_id", GetRequestID(r.Context())),
			slog.String("error", err.Error()))
		if stderrors.Is(err, io.EOF) {
			return apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "Request body is empty")
		}
		return apierrors.InvalidRequestWithError(err)
	}
	return v.Struct(dst)
}

// Struct validates dst and converts failures into a VALIDATION_FAILED error
func (v *RequestValidator) Struct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}
	fields := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, apierrors.ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: formatFieldError(fe),
		})
	}
	return apierrors.NewValidationErrors(fields)
}

// ContentTypeJSON rejects request bodies that are not JSON
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.ContentLength == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			apiErr := apierrors.New(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE",
				"Content-Type must be application/json")
			render.Status(r, apiErr.StatusCode)
			render.JSON(w, r, apiErr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// QueryEnum returns the query parameter named param when it is one of
// allowed, or def when absent
func QueryEnum(r *http.Request, param string, allowed []string, def string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(param))
	if value == "" {
		return def, nil
	}
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return a, nil
		}
	}
	return "", apierrors.NewValidationErrors([]apierrors.ValidationError{{
		Field:   param,
		Tag:     "oneof",
		Message: fmt.Sprintf("%s must be one of: %s", param, strings.Join(allowed, ", ")),
	}})
}

// QueryBool parses a boolean query parameter; absent means false
func QueryBool(r *http.Request, param string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(param))) {
	case "", "0", "false", "no":
		return false, nil
	case "1", "true", "yes":
		return true, nil
	default:
		return false, apierrors.NewValidationErrors([]apierrors.ValidationError{{
			Field:   param,
			Tag:     "boolean",
			Message: fmt.Sprintf("%s must be true or false", param),
		}})
	}
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "hwid":
		return fmt.Sprintf("%s must be 64 hex characters", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
