package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequestsTotal    = "dispatcher.requests.total"
	metricRequestDuration  = "dispatcher.request.duration.seconds"
	metricErrorsTotal      = "dispatcher.errors.total"
	metricInflightRequests = "dispatcher.inflight.requests"

	metricIssued          = "dispatcher.work.issued"
	metricPendingWrite    = "dispatcher.work.pending_write"
	metricRowsWritten     = "dispatcher.rows.written"
	metricExpiredReissues = "dispatcher.work.expired_reissues"
	metricDuplicates      = "dispatcher.work.duplicate_completions"

	attrOp     = "op"
	attrStatus = "status"

	statusError = "error"
)

// durationBucketBoundaries covers 1ms to 10s; dispatcher requests are
// small JSON exchanges dominated by lock hold time and one file write.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// metricBuilder accumulates OTel instrument creation errors,
// enabling batch construction with a single error check.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func newMetricBuilder(mt metric.Meter) *metricBuilder {
	return &metricBuilder{meter: mt}
}

func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

func (b *metricBuilder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	}

	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}

	h, err := b.meter.Float64Histogram(name, opts...)
	b.setErr(name, err)

	return h
}

func (b *metricBuilder) upDownCounter(name, desc, unit string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

func (b *metricBuilder) gauge(name, desc, unit string) metric.Int64ObservableGauge {
	g, err := b.meter.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return g
}

func (b *metricBuilder) observableCounter(name, desc, unit string) metric.Int64ObservableCounter {
	c, err := b.meter.Int64ObservableCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

func (b *metricBuilder) setErr(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create %s: %w", name, err)
	}
}

// RequestMetrics holds the OTel instruments for Rate, Error, Duration
// metrics on the HTTP surface.
type RequestMetrics struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	errorsTotal      metric.Int64Counter
	inflightRequests metric.Int64UpDownCounter
}

// NewRequestMetrics creates RED metric instruments from the given meter.
func NewRequestMetrics(mt metric.Meter) (*RequestMetrics, error) {
	b := newMetricBuilder(mt)

	rm := &RequestMetrics{
		requestsTotal:    b.counter(metricRequestsTotal, "Total number of requests", "{request}"),
		requestDuration:  b.histogram(metricRequestDuration, "Request duration in seconds", "s", durationBucketBoundaries...),
		errorsTotal:      b.counter(metricErrorsTotal, "Total number of errors", "{error}"),
		inflightRequests: b.upDownCounter(metricInflightRequests, "Number of in-flight requests", "{request}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return rm, nil
}

// RecordRequest records a completed request with its operation, status,
// and duration.
func (rm *RequestMetrics) RecordRequest(ctx context.Context, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.requestsTotal.Add(ctx, 1, attrs)
	rm.requestDuration.Record(ctx, duration.Seconds(), attrs)

	if status == statusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrOp, op),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to
// decrement it.
func (rm *RequestMetrics) TrackInflight(ctx context.Context, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflightRequests.Add(ctx, 1, attrs)

	return func() {
		rm.inflightRequests.Add(ctx, -1, attrs)
	}
}

// TrackerSnapshot carries the tracker counters observed on each metric
// collection cycle.
type TrackerSnapshot struct {
	Issued               int64
	PendingWrite         int64
	RowsWritten          int64
	ExpiredReissues      int64
	DuplicateCompletions int64
}

// TrackerMetrics exposes dispatcher progress as OTel instruments. All
// instruments are observable: the meter's reader pulls a snapshot on
// each collection cycle instead of instrumenting the tracker's hot path.
type TrackerMetrics struct {
	issued          metric.Int64ObservableGauge
	pendingWrite    metric.Int64ObservableGauge
	rowsWritten     metric.Int64ObservableCounter
	expiredReissues metric.Int64ObservableCounter
	duplicates      metric.Int64ObservableCounter

	snapshot func() TrackerSnapshot
}

// NewTrackerMetrics registers observable tracker instruments backed by
// the given snapshot function.
func NewTrackerMetrics(mt metric.Meter, snapshot func() TrackerSnapshot) (*TrackerMetrics, error) {
	b := newMetricBuilder(mt)

	tm := &TrackerMetrics{
		issued:          b.gauge(metricIssued, "Work items currently issued to workers", "{row}"),
		pendingWrite:    b.gauge(metricPendingWrite, "Completed rows buffered out of order", "{row}"),
		rowsWritten:     b.observableCounter(metricRowsWritten, "Rows durably appended to the output file", "{row}"),
		expiredReissues: b.observableCounter(metricExpiredReissues, "Work items reissued after their deadline", "{row}"),
		duplicates:      b.observableCounter(metricDuplicates, "Completions discarded as duplicates", "{row}"),
		snapshot:        snapshot,
	}

	if b.err != nil {
		return nil, b.err
	}

	_, err := mt.RegisterCallback(tm.observe,
		tm.issued, tm.pendingWrite, tm.rowsWritten, tm.expiredReissues, tm.duplicates)
	if err != nil {
		return nil, fmt.Errorf("register tracker metrics callback: %w", err)
	}

	return tm, nil
}

// observe reports the latest tracker snapshot to the OTel observer.
func (tm *TrackerMetrics) observe(_ context.Context, obs metric.Observer) error {
	snap := tm.snapshot()

	obs.ObserveInt64(tm.issued, snap.Issued)
	obs.ObserveInt64(tm.pendingWrite, snap.PendingWrite)
	obs.ObserveInt64(tm.rowsWritten, snap.RowsWritten)
	obs.ObserveInt64(tm.expiredReissues, snap.ExpiredReissues)
	obs.ObserveInt64(tm.duplicates, snap.DuplicateCompletions)

	return nil
}
