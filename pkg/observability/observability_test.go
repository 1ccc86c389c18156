package observability

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ParseOTLPHeaders(""))
	assert.Nil(t, ParseOTLPHeaders("no-equals-sign"))

	headers := ParseOTLPHeaders("api-key=secret, team = infra")
	require.NotNil(t, headers)
	assert.Equal(t, "secret", headers["api-key"])
	assert.Equal(t, "infra", headers["team"])
}

func TestInit_NoExporters_NoopProviders(t *testing.T) {
	t.Parallel()

	providers, err := Init(DefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.MetricsHandler)

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_Prometheus_ServesMetrics(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Prometheus = true

	providers, err := Init(cfg)
	require.NoError(t, err)

	defer func() { _ = providers.Shutdown(context.Background()) }()

	require.NotNil(t, providers.MetricsHandler)

	// Register an instrument and confirm the scrape endpoint answers.
	rm, err := NewRequestMetrics(providers.Meter)
	require.NoError(t, err)

	rm.RecordRequest(context.Background(), "get_work", "ok", 0)

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dispatcher_requests")
}

func TestTrackerMetrics_ObserveSnapshot(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Prometheus = true

	providers, err := Init(cfg)
	require.NoError(t, err)

	defer func() { _ = providers.Shutdown(context.Background()) }()

	_, err = NewTrackerMetrics(providers.Meter, func() TrackerSnapshot {
		return TrackerSnapshot{Issued: 3, PendingWrite: 1, RowsWritten: 7}
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "dispatcher_work_issued")
	assert.Contains(t, body, "dispatcher_rows_written")
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	failing := func(context.Context) error { return assert.AnError }

	rec = httptest.NewRecorder()
	ReadyHandler(failing).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestTracingHandler_ServiceAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(NewTracingHandler(inner, "translation-dispatcher", "test", ModeServe))

	logger.Info("hello")

	out := buf.String()
	assert.Contains(t, out, `"service":"translation-dispatcher"`)
	assert.Contains(t, out, `"mode":"serve"`)
	assert.Contains(t, out, `"env":"test"`)
}

func TestHTTPMiddleware_DispatcherSpanAttributes(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	defer func() { _ = tp.Shutdown(context.Background()) }()

	handler := HTTPMiddleware(tp.Tracer("test"), http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_work?batch_size=16", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /get_work", spans[0].Name)

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}

	assert.Equal(t, "get_work", attrs["dispatcher.op"].AsString())
	assert.Equal(t, int64(16), attrs["dispatcher.batch_size"].AsInt64())
	assert.Equal(t, int64(http.StatusOK), attrs["http.response.status_code"].AsInt64())
}

func TestHTTPMiddleware_ClientErrorMarksSpan(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	defer func() { _ = tp.Shutdown(context.Background()) }()

	handler := HTTPMiddleware(tp.Tracer("test"), http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit_result", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestHTTPMiddleware_PassesThrough(t *testing.T) {
	t.Parallel()

	providers, err := Init(DefaultConfig())
	require.NoError(t, err)

	defer func() { _ = providers.Shutdown(context.Background()) }()

	handler := HTTPMiddleware(providers.Tracer, http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_work", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
