// Package kansometrics instruments objstore and lease operations with
// OpenTelemetry counters and histograms, adapted from this codebase's
// GCS request/latency instrumentation.
package kansometrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// OpKey annotates the storage or lease operation name.
	OpKey = "op"
	// ErrorCategoryKey reduces error cardinality by grouping error types.
	ErrorCategoryKey = "error_category"
)

// The default time buckets for latency metrics, in milliseconds.
var defaultLatencyDistribution = metric.WithExplicitBucketBoundaries(
	1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000,
)

// Handle records metrics for storage and lease operations.
type Handle interface {
	// RequestCount increments the number of attempts of op.
	RequestCount(ctx context.Context, op string)
	// RequestLatency records how long op took.
	RequestLatency(ctx context.Context, op string, latency time.Duration)
	// ErrorCount increments the number of times op failed, tagged with a
	// coarse error category (e.g. "condition_failed", "not_found", "other").
	ErrorCount(ctx context.Context, op string, category string)
}

var (
	storageMeter = otel.Meter("kanso/objstore")
	leaseMeter   = otel.Meter("kanso/lease")
)

type attrSets struct {
	mu   sync.RWMutex
	sets map[string]metric.MeasurementOption
}

func newAttrSets() *attrSets {
	return &attrSets{sets: make(map[string]metric.MeasurementOption)}
}

func (a *attrSets) forOp(op string) metric.MeasurementOption {
	a.mu.RLock()
	opt, ok := a.sets[op]
	a.mu.RUnlock()
	if ok {
		return opt
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if opt, ok := a.sets[op]; ok {
		return opt
	}
	opt = metric.WithAttributeSet(attribute.NewSet(attribute.String(OpKey, op)))
	a.sets[op] = opt
	return opt
}

func (a *attrSets) forOpError(op, category string) metric.MeasurementOption {
	key := op + "\x00" + category
	a.mu.RLock()
	opt, ok := a.sets[key]
	a.mu.RUnlock()
	if ok {
		return opt
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if opt, ok := a.sets[key]; ok {
		return opt
	}
	opt = metric.WithAttributeSet(attribute.NewSet(
		attribute.String(OpKey, op),
		attribute.String(ErrorCategoryKey, category),
	))
	a.sets[key] = opt
	return opt
}

type otelHandle struct {
	requestCount   metric.Int64Counter
	requestLatency metric.Float64Histogram
	errorCount     metric.Int64Counter
	attrs          *attrSets
}

// New builds a Handle backed by meter: "objstore" and "lease" use the
// package's shared meters, and any other name gets a meter named
// "kanso/<meter>".
func New(meter string) (Handle, error) {
	var m metric.Meter
	switch meter {
	case "objstore":
		m = storageMeter
	case "lease":
		m = leaseMeter
	default:
		m = otel.Meter("kanso/" + meter)
	}

	requestCount, err1 := m.Int64Counter(meter+"/request_count", metric.WithDescription("The cumulative number of "+meter+" operations attempted."))
	requestLatency, err2 := m.Float64Histogram(meter+"/request_latency", metric.WithDescription("The distribution of "+meter+" operation latencies."), metric.WithUnit("ms"), defaultLatencyDistribution)
	errorCount, err3 := m.Int64Counter(meter+"/error_count", metric.WithDescription("The cumulative number of "+meter+" operations that failed, by category."))

	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}

	return &otelHandle{
		requestCount:   requestCount,
		requestLatency: requestLatency,
		errorCount:     errorCount,
		attrs:          newAttrSets(),
	}, nil
}

func (h *otelHandle) RequestCount(ctx context.Context, op string) {
	h.requestCount.Add(ctx, 1, h.attrs.forOp(op))
}

func (h *otelHandle) RequestLatency(ctx context.Context, op string, latency time.Duration) {
	h.requestLatency.Record(ctx, float64(latency.Microseconds())/1000.0, h.attrs.forOp(op))
}

func (h *otelHandle) ErrorCount(ctx context.Context, op string, category string) {
	h.errorCount.Add(ctx, 1, h.attrs.forOpError(op, category))
}

// NewNoop returns a Handle that records nothing, the default for
// backends and leases that aren't given an explicit Handle.
func NewNoop() Handle {
	return noopHandle{}
}

type noopHandle struct{}

func (noopHandle) RequestCount(context.Context, string)                  {}
func (noopHandle) RequestLatency(context.Context, string, time.Duration) {}
func (noopHandle) ErrorCount(context.Context, string, string)            {}

// Observe times fn, recording its request count and latency against op,
// and, if fn returns an error, an error count under errCategory(err).
func Observe(ctx context.Context, h Handle, op string, errCategory func(error) string, fn func() error) error {
	start := time.Now()
	h.RequestCount(ctx, op)
	err := fn()
	h.RequestLatency(ctx, op, time.Since(start))
	if err != nil {
		h.ErrorCount(ctx, op, errCategory(err))
	}
	return err
}
