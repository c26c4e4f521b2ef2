package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	apierrors "licensekit/internal/errors"
	"licensekit/internal/services"
)

// LicenseStatusSource reports the current license status
type LicenseStatusSource interface {
	Status(ctx context.Context, verbose bool) (*services.LicenseStatusResponse, error)
}

// LicenseGuard rejects requests unless the installed license validates.
// Status endpoints, health and metrics stay reachable so an operator can see
// why the guard is closed.
type LicenseGuard struct {
	source          LicenseStatusSource
	logger          *slog.Logger
	tracer          trace.Tracer
	excludePaths    map[string]struct{}
	excludePrefixes []string

	checks   metric.Int64Counter
	rejected metric.Int64Counter
}

// GuardOption configures a LicenseGuard
type GuardOption func(*LicenseGuard)

// WithGuardTracer sets the tracer for guard spans
func WithGuardTracer(t trace.Tracer) GuardOption {
	return func(g *LicenseGuard) {
		if t != nil {
			g.tracer = t
		}
	}
}

// WithGuardMeter registers the guard counters on m
func WithGuardMeter(m metric.Meter) GuardOption {
	return func(g *LicenseGuard) {
		if m == nil {
			return
		}
		g.checks, _ = m.Int64Counter("license_guard_checks_total",
			metric.WithDescription("Requests inspected by the license guard"))
		g.rejected, _ = m.Int64Counter("license_guard_rejections_total",
			metric.WithDescription("Requests rejected by the license guard"))
	}
}

// WithExcludePaths adds exact paths the guard lets through
func WithExcludePaths(paths ...string) GuardOption {
	return func(g *LicenseGuard) {
		for _, p := range paths {
			g.excludePaths[p] = struct{}{}
		}
	}
}

// WithExcludePrefixes adds path prefixes the guard lets through
func WithExcludePrefixes(prefixes ...string) GuardOption {
	return func(g *LicenseGuard) {
		g.excludePrefixes = append(g.excludePrefixes, prefixes...)
	}
}

// NewLicenseGuard creates a guard backed by source
func NewLicenseGuard(source LicenseStatusSource, logger *slog.Logger, opts ...GuardOption) *LicenseGuard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &LicenseGuard{
		source: source,
		logger: logger.With(slog.String("component", "license_guard")),
		tracer: noop.NewTracerProvider().Tracer("license_guard"),
		excludePaths: map[string]struct{}{
			"/metrics":                 {},
			"/api/license/status":      {},
			"/api/license/fingerprint": {},
			"/api/health":              {},
			"/api/health/live":         {},
			"/api/health/ready":        {},
		},
		excludePrefixes: []string{"/api/registry/"},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler returns the middleware
func (g *LicenseGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := g.tracer.Start(r.Context(), "license_guard.check",
			trace.WithAttributes(attribute.String("http.route", r.URL.Path)))
		defer span.End()
		traceID := GetRequestID(ctx)

		status, err := g.source.Status(ctx, false)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "license status unavailable")
			g.count(ctx, g.rejected, "error")
			g.logger.ErrorContext(ctx, "license status unavailable",
				slog.String("trace_id", traceID),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))

			problem := apierrors.NewProblemDetails(
				http.StatusServiceUnavailable,
				apierrors.TypeServiceDown,
				"License Check Unavailable",
				"The license status could not be determined",
				r.URL.Path,
			).WithExtension("trace_id", traceID)
			_ = render.Render(w, r, problem)
			return
		}

		span.SetAttributes(
			attribute.String("license.status", string(status.Status)),
			attribute.Bool("license.cached", status.Cached),
		)
		g.count(ctx, g.checks, string(status.Status))

		if !status.IsValid() {
			g.count(ctx, g.rejected, string(status.Status))
			g.logger.WarnContext(ctx, "request rejected by license guard",
				slog.String("trace_id", traceID),
				slog.String("path", r.URL.Path),
				slog.String("status", string(status.Status)))
			_ = render.Render(w, r, apierrors.NewLicenseStatusProblem(status.ValidationResult, traceID))
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *LicenseGuard) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *LicenseGuard) count(ctx context.Context, c metric.Int64Counter, status string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
