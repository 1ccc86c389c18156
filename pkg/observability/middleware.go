package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// httpStatusClientError is the threshold for HTTP client errors.
const httpStatusClientError = 400

// Span attribute keys for the dispatcher's request surface.
const (
	attrDispatcherOp = "dispatcher.op"
	attrBatchSize    = "dispatcher.batch_size"
)

// statusWriter wraps [http.ResponseWriter] to capture the status code.
type statusWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

// WriteHeader captures the status code before delegating to the wrapped writer.
func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(buf []byte) (int, error) {
	if !sw.written {
		sw.statusCode = http.StatusOK
		sw.written = true
	}

	n, err := sw.ResponseWriter.Write(buf)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}

	return n, nil
}

// HTTPMiddleware returns an [http.Handler] that creates a span per
// request, named "METHOD /path" and tagged with the dispatcher
// operation (get_work, submit_result, status) and, for get_work, the
// requested batch size.
func HTTPMiddleware(tracer trace.Tracer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		spanName := hr.Method + " " + hr.URL.Path

		// Extract W3C traceparent/tracestate/baggage from incoming headers.
		parentCtx := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(hr.Method),
			attribute.String(attrDispatcherOp, strings.TrimPrefix(hr.URL.Path, "/")),
		}

		if raw := hr.URL.Query().Get("batch_size"); raw != "" {
			batchSize, parseErr := strconv.Atoi(raw)
			if parseErr == nil {
				attrs = append(attrs, attribute.Int(attrBatchSize, batchSize))
			}
		}

		ctx, span := tracer.Start(parentCtx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: rw}
		next.ServeHTTP(sw, hr.WithContext(ctx))

		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.statusCode))

		// 4xx counts as a span error: rejected submissions and bad batch
		// sizes are worker protocol failures, not routine responses.
		if sw.statusCode >= httpStatusClientError {
			span.SetStatus(codes.Error, http.StatusText(sw.statusCode))
		}
	})
}
