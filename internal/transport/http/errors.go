package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "licensekit/internal/errors"
	"licensekit/internal/middleware"
)

// renderError maps err to an RFC 7807 response and logs it at a level that
// matches the status
func renderError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	ctx := r.Context()
	traceID := middleware.GetRequestID(ctx)

	var problem render.Renderer
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		problem = apierrors.NewProblemDetails(http.StatusGatewayTimeout, apierrors.TypeTimeout,
			"Request Timeout", "The request timed out", r.URL.Path).
			WithExtension("trace_id", traceID)
	default:
		problem = apierrors.MapLicenseError(err, traceID)
	}

	status := http.StatusInternalServerError
	if pd, ok := problem.(*apierrors.ProblemDetails); ok {
		status = pd.Status
	}
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "request failed",
		slog.String("trace_id", traceID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))

	_ = render.Render(w, r, problem)
}
