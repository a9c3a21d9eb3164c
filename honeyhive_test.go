package honeyhive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/honeyhiveai/honeyhive-go/internal/cache"
)

func newTestTracer(t *testing.T, opts Options) *Tracer {
	t.Helper()
	opts.TestMode = true
	if opts.Project == "" {
		opts.Project = "demo"
	}
	tr, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	return tr
}

// counterValue reads one counter series from the instance registry.
func counterValue(t *testing.T, tr *Tracer, name string, label, labelValue string) float64 {
	t.Helper()
	families, err := tr.MetricsRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" || hasLabel(m, label, labelValue) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func openInferenceSpan(tr *Tracer) {
	_, span := tr.Start(context.Background(), "chat_completion")
	span.SetAttributes(
		attribute.String("llm.model_name", "gpt-4"),
		attribute.String("llm.output_messages.0.role", "assistant"),
		attribute.String("llm.output_messages.0.content", "hi"),
		attribute.Int("llm.token_count_prompt", 10),
		attribute.Int("llm.token_count_completion", 3),
	)
	span.End()
}

func TestTranslatedModelEvent(t *testing.T) {
	tr := newTestTracer(t, Options{Source: "prod"})
	openInferenceSpan(tr)

	events := tr.CapturedEvents()
	if len(events) != 1 {
		t.Fatalf("captured %d events", len(events))
	}
	ev := events[0]
	if ev.EventType != "model" {
		t.Fatalf("event_type = %q", ev.EventType)
	}
	if ev.Config["model"] != "gpt-4" {
		t.Errorf("config.model = %v", ev.Config["model"])
	}
	if ev.Outputs["content"] != "hi" {
		t.Errorf("outputs.content = %v", ev.Outputs["content"])
	}
	if ev.Metadata["prompt_tokens"] != int64(10) {
		t.Errorf("metadata.prompt_tokens = %#v", ev.Metadata["prompt_tokens"])
	}
	if ev.Metadata["completion_tokens"] != int64(3) {
		t.Errorf("metadata.completion_tokens = %#v", ev.Metadata["completion_tokens"])
	}
	if _, err := uuid.Parse(ev.SessionID); err != nil {
		t.Errorf("session_id %q is not a UUID", ev.SessionID)
	}
	if ev.Project != "demo" || ev.Source != "prod" {
		t.Errorf("project/source = %q/%q", ev.Project, ev.Source)
	}
	if ev.Duration != ev.EndTime-ev.StartTime {
		t.Errorf("duration = %v", ev.Duration)
	}
}

func TestOTLPExportPath(t *testing.T) {
	var requests atomic.Int32
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := New(Options{
		APIKey:    "hh_test_00000000",
		Project:   "demo",
		Source:    "prod",
		ServerURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = tr.Shutdown(context.Background()) }()

	openInferenceSpan(tr)
	if !tr.Flush(5 * time.Second) {
		t.Fatal("flush failed")
	}
	if requests.Load() == 0 {
		t.Fatal("no OTLP request reached the server")
	}
	if gotPath != "/opentelemetry/v1/traces" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer hh_test_00000000" {
		t.Errorf("auth = %q", gotAuth)
	}
}

func TestMultiInstanceCoexistence(t *testing.T) {
	hostTP := sdktrace.NewTracerProvider()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(hostTP)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	t1 := newTestTracer(t, Options{Project: "a"})
	t2 := newTestTracer(t, Options{Project: "b"})

	if otel.GetTracerProvider() != trace.TracerProvider(hostTP) {
		t.Fatal("host global provider was replaced")
	}
	for _, tr := range []*Tracer{t1, t2} {
		info := tr.ProviderInfo()
		if info.Strategy != "secondary_provider" || info.InstalledGlobal {
			t.Fatalf("provider info = %+v", info)
		}
	}

	_, s1 := t1.Start(context.Background(), "op-a")
	s1.End()
	_, s2 := t2.Start(context.Background(), "op-b")
	s2.End()

	e1, e2 := t1.CapturedEvents(), t2.CapturedEvents()
	if len(e1) != 1 || len(e2) != 1 {
		t.Fatalf("events = %d/%d", len(e1), len(e2))
	}
	if e1[0].Project != "a" || e2[0].Project != "b" {
		t.Errorf("projects = %q/%q", e1[0].Project, e2[0].Project)
	}
	if e1[0].SessionID == e2[0].SessionID {
		t.Error("instances share a session")
	}
}

func TestBecomesMainProviderOverNoop(t *testing.T) {
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(noop.NewTracerProvider())
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	tr := newTestTracer(t, Options{})
	info := tr.ProviderInfo()
	if info.Strategy != "main_provider" || !info.InstalledGlobal {
		t.Fatalf("provider info = %+v", info)
	}

	// Spans started through the now-global provider flow into this
	// instance's pipeline.
	_, span := otel.Tracer("host").Start(tr.ContextWithBaggage(context.Background()), "host-op")
	span.End()
	if len(tr.CapturedEvents()) != 1 {
		t.Fatal("global span did not reach the pipeline")
	}
}

func TestTranslationFallbackScenario(t *testing.T) {
	tr := newTestTracer(t, Options{})
	_, span := tr.Start(context.Background(), "mystery_operation")
	span.SetAttributes(
		attribute.Int("unknown.vendor.x", 1),
		attribute.String("unknown.vendor.y", "z"),
	)
	span.End()

	events := tr.CapturedEvents()
	if len(events) != 1 {
		t.Fatalf("captured %d events", len(events))
	}
	ev := events[0]
	if ev.EventType != "tool" {
		t.Errorf("event_type = %q", ev.EventType)
	}
	if ev.Outputs["unknown.vendor.x"] != int64(1) || ev.Outputs["unknown.vendor.y"] != "z" {
		t.Errorf("outputs = %v", ev.Outputs)
	}
	if ev.Metadata["translation_status"] != "unknown_provider" {
		t.Errorf("translation_status = %v", ev.Metadata["translation_status"])
	}
	got := counterValue(t, tr, "honeyhive_translation_failures_total", "kind", "unknown_provider")
	if got != 1 {
		t.Errorf("translation_failures = %v", got)
	}
}

func TestCrashIsolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, err := New(Options{
		APIKey:      "hh_test_00000000",
		Project:     "demo",
		ServerURL:   srv.URL,
		DisableOTLP: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const spans = 1000
	for i := 0; i < spans; i++ {
		_, span := tr.Start(context.Background(), "doomed")
		span.End()
	}
	if tr.Flush(100 * time.Millisecond) {
		t.Error("flush should fail while the backend is down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := tr.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := counterValue(t, tr, "honeyhive_dropped_spans_total", "", ""); got != spans {
		t.Errorf("dropped = %v, want %d", got, spans)
	}
}

func TestSessionEnrichmentScenario(t *testing.T) {
	tr := newTestTracer(t, Options{})
	sid, err := tr.SessionStart("my-session")
	if err != nil {
		t.Fatalf("session start: %v", err)
	}
	if _, err := uuid.Parse(sid); err != nil {
		t.Fatalf("session id %q is not a UUID", sid)
	}

	_, span := tr.Start(context.Background(), "step")
	if err := tr.EnrichSpan(span, Enrichment{
		Metadata: map[string]any{"k": "v"},
		Metrics:  map[string]any{"tokens": 42},
	}); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	span.End()

	events := tr.CapturedEvents()
	// Explicit SessionStart emits the session event, then the span's.
	if len(events) != 2 {
		t.Fatalf("captured %d events", len(events))
	}
	if events[0].EventType != "session" || events[0].EventID != sid {
		t.Errorf("session event = %+v", events[0])
	}
	ev := events[1]
	if ev.SessionID != sid {
		t.Errorf("session_id = %q, want %q", ev.SessionID, sid)
	}
	if ev.Metadata["k"] != "v" {
		t.Errorf("metadata.k = %v", ev.Metadata["k"])
	}
	if ev.Metrics["tokens"] != int64(42) {
		t.Errorf("metrics.tokens = %#v", ev.Metrics["tokens"])
	}
}

func TestEnvironmentProfileCached(t *testing.T) {
	caches := cache.NewManager(cache.Options{Enabled: true, SweepInterval: -1})
	defer caches.Close()

	first := detectProfile(caches)
	if got := caches.Len(cache.ConfigResolution); got != 1 {
		t.Fatalf("config cache holds %d entries, want 1", got)
	}
	second := detectProfile(caches)
	if first != second {
		t.Errorf("cached profile differs: %+v vs %+v", first, second)
	}
	if stats := caches.Stats(); stats.Hits == 0 {
		t.Error("second detection did not hit the cache")
	}
}

func TestEnvironmentAwareFlush(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "fn")
	tr := newTestTracer(t, Options{})
	if got := tr.EnvironmentKind(); got != "serverless" {
		t.Fatalf("environment = %q", got)
	}

	_, span := tr.Start(context.Background(), "step")
	span.End()

	start := time.Now()
	if !tr.Flush(0) {
		t.Fatal("flush failed")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("flush took %v, beyond the serverless budget", elapsed)
	}
	if len(tr.CapturedEvents()) != 1 {
		t.Error("event not exported")
	}
}

func TestLifecycleIdempotence(t *testing.T) {
	tr := newTestTracer(t, Options{})
	if !tr.Flush(time.Second) {
		t.Error("flush on empty queue should succeed")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if _, err := tr.SessionStart(""); err == nil {
		t.Error("session start after shutdown should fail")
	}
}

func TestEnrichmentValidation(t *testing.T) {
	tr := newTestTracer(t, Options{})
	_, span := tr.Start(context.Background(), "step")
	defer span.End()

	if err := tr.EnrichSpan(span, Enrichment{EventID: "not-a-uuid"}); err == nil {
		t.Error("invalid event id must be rejected")
	}
	if err := tr.EnrichSpan(span, Enrichment{EventType: "banana"}); err == nil {
		t.Error("invalid event type must be rejected")
	}
	if err := tr.EnrichSpan(nil, Enrichment{}); err == nil {
		t.Error("nil span must be rejected")
	}

	_, ended := tr.Start(context.Background(), "done")
	ended.End()
	if err := tr.EnrichSpan(ended, Enrichment{Metadata: map[string]any{"k": "v"}}); err == nil {
		t.Error("ended span must be rejected")
	}
	events := tr.CapturedEvents()
	last := events[len(events)-1]
	if _, ok := last.Metadata["k"]; ok {
		t.Error("late enrichment must not reach the event")
	}
}

func TestBaggageRoundTrip(t *testing.T) {
	tr := newTestTracer(t, Options{})
	if err := tr.SetBaggage("user_id", "u-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok := tr.GetBaggage("user_id"); !ok || v != "u-1" {
		t.Fatalf("get = %q/%v", v, ok)
	}
	if err := tr.RemoveBaggage("session_id"); err == nil {
		t.Error("reserved key removal must be rejected")
	}

	carrier := make(mapCarrier)
	tr.Inject(carrier)
	if carrier["baggage"] == "" {
		t.Fatal("inject wrote no header")
	}

	other := newTestTracer(t, Options{Project: "other"})
	if err := other.Extract(carrier); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if v, _ := other.GetBaggage("user_id"); v != "u-1" {
		t.Errorf("extracted user_id = %q", v)
	}
	if other.SessionID() != tr.SessionID() {
		t.Error("extracted session did not take over")
	}
}

type mapCarrier map[string]string

func (c mapCarrier) Get(key string) string { return c[key] }

func (c mapCarrier) Set(key, value string) { c[key] = value }

func (c mapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func TestUserPropertiesFromTags(t *testing.T) {
	tr := newTestTracer(t, Options{})
	if err := tr.SetTag("team", "ml"); err != nil {
		t.Fatalf("set tag: %v", err)
	}
	_, span := tr.Start(context.Background(), "step")
	span.End()

	events := tr.CapturedEvents()
	if len(events) != 1 {
		t.Fatalf("captured %d events", len(events))
	}
	if events[0].UserProperties["team"] != "ml" {
		t.Errorf("user_properties = %v", events[0].UserProperties)
	}
}
