package core

import (
	"bytes"
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"cellrex/pkg/domain"
	recs "cellrex/testutil"
)

type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) log(level, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s %s %v", level, msg, kv))
}

func (l *captureLogger) Debug(msg string, kv ...any) { l.log("debug", msg, kv...) }
func (l *captureLogger) Info(msg string, kv ...any)  { l.log("info", msg, kv...) }
func (l *captureLogger) Warn(msg string, kv ...any)  { l.log("warn", msg, kv...) }
func (l *captureLogger) Error(msg string, kv ...any) { l.log("error", msg, kv...) }

func (l *captureLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

type metricRecord struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu      sync.Mutex
	records []metricRecord
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	c.records = append(c.records, metricRecord{op: op, success: success})
	c.mu.Unlock()
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.op == op && r.success == success {
			return true
		}
	}
	return false
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	metrics := &captureMetricsRecorder{}
	var traceOut bytes.Buffer
	tracer := NewJSONTracer(&traceOut)
	h := newHarness(t, WithLogger(logger), WithMetricsRecorder(metrics), WithTracer(tracer))

	out := h.register(t, recs.MEARecord(), []byte("observed"))
	require.True(t, logger.has("info registered file"))
	require.True(t, metrics.has(opRegister, true))

	conflict := h.register(t, recs.MEARecord(), []byte("different"))
	require.Equal(t, StatusConflict, conflict.Status)
	require.True(t, logger.has("warn registration conflict"))
	require.True(t, metrics.has(opRegister, true), "conflicts are outcomes, not failures")

	_, err := h.svc.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.True(t, metrics.has(opGet, false))

	require.NoError(t, h.svc.Delete(ctx, out.Entry.ID))
	require.True(t, logger.has("info deleted index entry"))

	_, err = h.svc.Reconcile(ctx, ReconcileOptions{})
	require.NoError(t, err)
	require.True(t, logger.has("info reconcile finished"))
	require.True(t, logger.has("warn reconcile finding"))

	entries := tracer.Entries()
	require.NotEmpty(t, entries)
	ops := map[string]JSONTraceEntry{}
	for _, e := range entries {
		ops[e.Operation] = e
	}
	require.Equal(t, "error", ops[opGet].Status)
	require.Equal(t, "success", ops[opReconcile].Status)
	require.Equal(t, "false", ops[opReconcile].Attributes["clean"])
	require.Equal(t, string(StatusCreated), entries[0].Attributes["status"])
	require.Equal(t, out.Paths.File, entries[0].Attributes["path"])

	lines := strings.Split(strings.TrimSpace(traceOut.String()), "\n")
	require.Len(t, lines, len(entries))
	var first JSONTraceEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, opRegister, first.Operation)
	require.Equal(t, string(StatusCreated), first.Attributes["status"])
}

func TestJSONTracerIgnoresAttributesAfterEnd(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), opQuery)
	span.SetAttribute("limit", "5")
	span.End(nil)
	span.SetAttribute("late", "x")
	span.End(fmt.Errorf("second end"))

	entries := tracer.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, map[string]string{"limit": "5"}, entries[0].Attributes)
	require.Equal(t, "success", entries[0].Status)
}

func TestRegisterFailureIsLoggedAndCounted(t *testing.T) {
	logger := &captureLogger{}
	metrics := &captureMetricsRecorder{}
	h := newHarness(t, WithLogger(logger), WithMetricsRecorder(metrics))
	rec := recs.MEARecord()
	rec.Keywords = nil

	_, err := h.svc.Register(context.Background(), rec, h.source(t, "rec.h5", []byte("x")))
	require.ErrorIs(t, err, domain.ErrInvalidRecord)
	require.True(t, logger.has("error registration failed"))
	require.True(t, metrics.has(opRegister, false))
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	require.NotNil(t, expvar.Get(rec.Name()))

	ctx := context.Background()
	rec.Observe(ctx, opRegister, true, 2*time.Millisecond)
	rec.Observe(ctx, opRegister, false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)
	rec.ObserveOutcome(ctx, StatusCreated)
	rec.ObserveOutcome(ctx, StatusCreated)
	rec.ObserveReport(ctx, Report{Stale: []Finding{{Kind: FindingStale, Path: "a"}}})

	snap := rec.Snapshot()
	require.Equal(t, map[string]int64{"success": 1, "error": 1}, snap.Results[opRegister])
	require.InDelta(t, 3.0, snap.DurationsMS[opRegister], 0.001)
	require.Equal(t, int64(2), snap.Outcomes[StatusCreated])
	require.Equal(t, 1, snap.Findings[FindingStale])
	require.Len(t, snap.Results, 1)

	published := expvar.Get(rec.Name()).String()
	require.Contains(t, published, `"outcomes_total":{"created":2}`)
}

func TestPrometheusRecorder(t *testing.T) {
	prom := NewPrometheusRecorder(nil)
	h := newHarness(t, WithMetricsRecorder(prom))
	h.register(t, recs.MEARecord(), []byte("a"))
	h.register(t, recs.MEARecord(), []byte("a"))
	h.placeUnindexed(t, withSample(recs.MEARecord(), 9), []byte("b"), false)
	reconcile(t, h, ReconcileOptions{})

	require.Equal(t, 1.0, testutil.ToFloat64(prom.outcomes.WithLabelValues(string(StatusCreated))))
	require.Equal(t, 1.0, testutil.ToFloat64(prom.outcomes.WithLabelValues(string(StatusUnchanged))))
	require.Equal(t, 1.0, testutil.ToFloat64(prom.findings.WithLabelValues(string(FindingUnindexed))))
	require.Equal(t, 0.0, testutil.ToFloat64(prom.findings.WithLabelValues(string(FindingStale))))
	require.Equal(t, 2.0, testutil.ToFloat64(prom.scanned))
	require.Equal(t, float64(fixedNow.Unix()), testutil.ToFloat64(prom.lastSweep))

	families, err := prom.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "cellrex_core_operation_duration_seconds")
	require.Contains(t, names, "cellrex_registration_outcomes_total")
}

func TestMultiRecorderFansOut(t *testing.T) {
	ctx := context.Background()
	capture := &captureMetricsRecorder{}
	expv := NewExpvarMetricsRecorder("")
	multi := MultiRecorder{capture, expv}

	multi.Observe(ctx, opQuery, true, time.Millisecond)
	multi.ObserveOutcome(ctx, StatusUpdated)
	multi.ObserveReport(ctx, Report{Orphaned: []Finding{{Kind: FindingOrphaned}}})

	require.True(t, capture.has(opQuery, true))
	snap := expv.Snapshot()
	require.Equal(t, int64(1), snap.Results[opQuery]["success"])
	require.Equal(t, int64(1), snap.Outcomes[StatusUpdated])
	require.Equal(t, 1, snap.Findings[FindingOrphaned])
}
