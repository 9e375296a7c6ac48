package core

import (
	"context"
	"time"
)

// Logger is the structured logging seam used by the service. Key/value pairs
// follow the zap SugaredLogger convention.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// OutcomeObserver is implemented by recorders that also count registration
// outcomes by status.
type OutcomeObserver interface {
	ObserveOutcome(ctx context.Context, status Status)
}

// ReportObserver is implemented by recorders that publish sweep findings.
type ReportObserver interface {
	ObserveReport(ctx context.Context, report Report)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts a span per service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error, if any.
// Attributes set before End are attached to the span.
type TraceSpan interface {
	SetAttribute(key, value string)
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttribute(string, string) {}
func (noopSpan) End(error)                   {}

type spanKey struct{}

// annotate attaches key=value to the span started by instrument, if any.
func annotate(ctx context.Context, key, value string) {
	if span, ok := ctx.Value(spanKey{}).(TraceSpan); ok {
		span.SetAttribute(key, value)
	}
}

// Operation names reported to metrics and tracing.
const (
	opRegister         = "register"
	opReconcile        = "reconcile"
	opGet              = "get"
	opGetByPath        = "get_by_path"
	opGetByFingerprint = "get_by_fingerprint"
	opQuery            = "query"
	opDelete           = "delete"
	opDuplicates       = "duplicates"
)

// instrument starts a span and returns the function that ends it and records
// the observation.
func (s *Service) instrument(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	ctx = context.WithValue(ctx, spanKey{}, span)
	return ctx, func(err error) {
		span.End(err)
		s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	}
}

// MultiRecorder fans observations out to several recorders.
type MultiRecorder []MetricsRecorder

// Observe forwards to every recorder.
func (m MultiRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}

// ObserveOutcome forwards to recorders that count outcomes.
func (m MultiRecorder) ObserveOutcome(ctx context.Context, status Status) {
	for _, r := range m {
		if o, ok := r.(OutcomeObserver); ok {
			o.ObserveOutcome(ctx, status)
		}
	}
}

// ObserveReport forwards to recorders that publish sweep findings.
func (m MultiRecorder) ObserveReport(ctx context.Context, report Report) {
	for _, r := range m {
		if o, ok := r.(ReportObserver); ok {
			o.ObserveReport(ctx, report)
		}
	}
}
