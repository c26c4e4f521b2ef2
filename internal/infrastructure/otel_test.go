package infrastructure

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit/internal/config"
)

func TestNewTelemetry_PrometheusHandler(t *testing.T) {
	ctx := context.Background()
	tel, err := NewTelemetry(ctx, config.TelemetryConfig{
		ServiceName:    "licensekit-test",
		MetricsEnabled: true,
		TraceExporter:  config.TraceExporterNone,
	}, "test", NopLogger())
	require.NoError(t, err)
	defer tel.Shutdown(ctx)

	counter, err := tel.Meter.Int64Counter("licensekit_test_total")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	require.NotNil(t, tel.MetricsHandler)
	rec := httptest.NewRecorder()
	tel.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), "licensekit_test_total")
}

func TestNewTelemetry_Disabled(t *testing.T) {
	ctx := context.Background()
	tel, err := NewTelemetry(ctx, config.TelemetryConfig{ServiceName: "x", TraceExporter: config.TraceExporterNone}, "test", nil)
	require.NoError(t, err)

	assert.Nil(t, tel.MetricsHandler)
	assert.Nil(t, tel.TracerProvider)
	assert.NotNil(t, tel.Meter)
	assert.NotNil(t, tel.Tracer)
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestNewTelemetry_UnknownExporter(t *testing.T) {
	_, err := NewTelemetry(context.Background(), config.TelemetryConfig{TraceExporter: "jaeger"}, "test", NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestNopTelemetry(t *testing.T) {
	tel := NopTelemetry()
	_, span := tel.Tracer.Start(context.Background(), "noop")
	span.End()
	assert.Empty(t, TraceIDFromContext(context.Background()))
}
