package core

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"annocore/internal/clientstore"
	"annocore/internal/infra/persistence/memory"
	"annocore/pkg/changes"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNoopImplementations(t *testing.T) {
	var logger noopLogger
	logger.Debug("noop")
	logger.Info("noop", "k", "v")
	logger.Warn("noop")
	logger.Error("noop")

	var metrics noopMetricsRecorder
	metrics.Observe(context.Background(), "noop", true, 0)

	ctx, span := noopTracer{}.Start(context.Background(), "op")
	if ctx == nil {
		t.Fatalf("expected context from tracer")
	}
	span.End(nil)
}

func TestZapLoggerForwardsFields(t *testing.T) {
	obsCore, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(obsCore).Sugar())
	l.Debug("d", "k", 1)
	l.Info("i", "k", 2)
	l.Warn("w", "k", 3)
	l.Error("e", "k", 4)

	entries := logs.AllUntimed()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d: level %s, want %s", i, e.Level, wantLevels[i])
		}
		if got := e.ContextMap()["k"]; got != int64(i+1) {
			t.Fatalf("entry %d: field k = %v", i, got)
		}
	}

	NewZapLogger(nil).Info("dropped")
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)
	rec.Observe(context.Background(), "submit.TypeChange", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "submit.TypeChange", false, 5*time.Millisecond)
	rec.Observe(context.Background(), "submit.TypeChange", true, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)

	if got := testutil.ToFloat64(rec.results.WithLabelValues("submit.TypeChange", "success")); got != 2 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("submit.TypeChange", "error")); got != 1 {
		t.Fatalf("error count = %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}

	// a second recorder on its own registry must not collide
	NewPrometheusMetricsRecorder(nil).Observe(context.Background(), "x", true, 0)
}

func TestJSONTracerRecordsSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "ok")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "bad")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Fatalf("unexpected spans: %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %q", buf.String())
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("decode span: %v", err)
	}
	if decoded.Operation != "bad" {
		t.Fatalf("unexpected operation %q", decoded.Operation)
	}

	NewJSONTracer(nil).Start(context.Background(), "quiet")
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct{ calls []metricsCall }

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetrics) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

func TestManagerEmitsMetricsLogsAndSpans(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	metrics := &captureMetrics{}
	obsCore, logs := observer.New(zapcore.DebugLevel)
	tracer := NewJSONTracer(nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts := []Option{
		WithMetrics(metrics),
		WithLogger(NewZapLogger(zap.New(obsCore).Sugar())),
		WithTracer(tracer),
		WithClock(ClockFunc(func() time.Time { return fixed })),
		WithSubmitTimeout(time.Second),
		nil,
	}
	svc := NewService(store, opts...)
	m := NewManager(clientstore.New(), NewLocalDispatcher(svc), opts...)

	if _, err := m.Submit(ctx, changes.NewAddAssemblyFromExternalChange("a1", "hg38",
		domain.ExternalLocation{FA: "f", FAI: "i"}, []domain.RefSeqSummary{{Name: "chr1", Length: 10}})); err != nil {
		t.Fatalf("add assembly: %v", err)
	}
	if _, err := m.Submit(ctx, changes.NewTypeChange("a1", changes.TypeItem{FeatureID: "x", OldType: "a", NewType: "b"})); err == nil {
		t.Fatalf("expected rejection")
	}

	if !metrics.has("submit."+changes.TypeAddAssemblyFromExternal, true) {
		t.Fatalf("missing submit success metric: %+v", metrics.calls)
	}
	if !metrics.has("apply."+changes.TypeAddAssemblyFromExternal, true) {
		t.Fatalf("missing apply success metric: %+v", metrics.calls)
	}
	if !metrics.has("submit."+changes.TypeType, false) {
		t.Fatalf("missing submit error metric: %+v", metrics.calls)
	}
	if logs.FilterMessage("submission rejected").Len() != 1 {
		t.Fatalf("expected one rejection log, got %v", logs.All())
	}
	if logs.FilterMessage("change applied").Len() != 1 {
		t.Fatalf("expected one applied log")
	}
	spans := tracer.Entries()
	if len(spans) < 3 {
		t.Fatalf("expected submit and apply spans, got %+v", spans)
	}
}

func TestChangeErrorMessage(t *testing.T) {
	err := &ChangeError{Reason: domain.ReasonStaleChange, TypeName: "TypeChange", Err: domain.ErrStaleChange}
	if !strings.Contains(err.Error(), "TypeChange rejected (StaleChange)") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, domain.ErrStaleChange) {
		t.Fatalf("ChangeError must unwrap to its cause")
	}
	anon := &ChangeError{Reason: domain.ReasonMalformedChange, Err: domain.ErrMalformedChange}
	if !strings.HasPrefix(anon.Error(), "change rejected") {
		t.Fatalf("unexpected message %q", anon.Error())
	}
}
