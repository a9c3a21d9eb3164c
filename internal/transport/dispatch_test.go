package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/honeyhiveai/honeyhive-go/internal/metrics"
)

func stubSpan(name string) sdktrace.ReadOnlySpan {
	return tracetest.SpanStub{Name: name}.Snapshot()
}

func TestEventDispatcher(t *testing.T) {
	t.Run("immediate mode sends one request per event", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := NewEventsClient(ClientOptions{ServerURL: srv.URL, APIKey: "k", Profile: testProfile()})
		d := NewEventDispatcher(client, BatcherOptions{SendTimeout: time.Second}, true)
		d.Dispatch(sampleEvent("a"), nil)
		d.Dispatch(sampleEvent("b"), nil)
		if calls.Load() != 2 {
			t.Fatalf("requests = %d, want 2", calls.Load())
		}
		if !d.Flush(time.Second) {
			t.Error("immediate flush should always succeed")
		}
		if err := d.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	t.Run("batch mode accumulates until flush", func(t *testing.T) {
		var calls atomic.Int32
		var events atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			var p batchPayload
			_ = json.NewDecoder(r.Body).Decode(&p)
			events.Add(int32(len(p.Events)))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := NewEventsClient(ClientOptions{ServerURL: srv.URL, APIKey: "k", Profile: testProfile()})
		d := NewEventDispatcher(client, BatcherOptions{Capacity: 16, Interval: time.Hour, SendTimeout: time.Second}, false)
		defer func() { _ = d.Shutdown(context.Background()) }()

		d.Dispatch(sampleEvent("a"), nil)
		d.Dispatch(sampleEvent("b"), nil)
		d.Dispatch(sampleEvent("c"), nil)
		if calls.Load() != 0 {
			t.Fatalf("premature send: %d requests", calls.Load())
		}
		if !d.Flush(time.Second) {
			t.Fatal("flush timed out")
		}
		if calls.Load() != 1 || events.Load() != 3 {
			t.Fatalf("requests = %d, events = %d; want 1 request with 3 events", calls.Load(), events.Load())
		}
	})

	t.Run("immediate mode counts failed deliveries", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		pipe := metrics.New("t")
		client := NewEventsClient(ClientOptions{ServerURL: srv.URL, APIKey: "k", Profile: testProfile(), Metrics: pipe})
		d := NewEventDispatcher(client, BatcherOptions{SendTimeout: time.Second, Metrics: pipe}, true)
		d.Dispatch(sampleEvent("a"), nil)
		if got := metrics.CounterValue(pipe.DroppedSpans); got != 1 {
			t.Fatalf("dropped counter = %v, want 1", got)
		}
	})
}

func TestSpanDispatcher(t *testing.T) {
	t.Run("immediate export", func(t *testing.T) {
		exp := tracetest.NewInMemoryExporter()
		pipe := metrics.New("t")
		d := NewSpanDispatcher(exp, BatcherOptions{SendTimeout: time.Second, Metrics: pipe}, true)
		d.Dispatch(nil, stubSpan("op"))
		if got := len(exp.GetSpans()); got != 1 {
			t.Fatalf("exported %d spans, want 1", got)
		}
		if got := metrics.CounterValue(pipe.ExportedEvents); got != 1 {
			t.Errorf("exported counter = %v", got)
		}
		if err := d.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	t.Run("batch export flushes on demand", func(t *testing.T) {
		exp := tracetest.NewInMemoryExporter()
		d := NewSpanDispatcher(exp, BatcherOptions{Capacity: 16, Interval: time.Hour, SendTimeout: time.Second}, false)
		defer func() { _ = d.Shutdown(context.Background()) }()

		d.Dispatch(nil, stubSpan("a"))
		d.Dispatch(nil, stubSpan("b"))
		if got := len(exp.GetSpans()); got != 0 {
			t.Fatalf("premature export of %d spans", got)
		}
		if !d.Flush(time.Second) {
			t.Fatal("flush timed out")
		}
		if got := len(exp.GetSpans()); got != 2 {
			t.Fatalf("exported %d spans, want 2", got)
		}
	})

	t.Run("nil span ignored", func(t *testing.T) {
		exp := tracetest.NewInMemoryExporter()
		d := NewSpanDispatcher(exp, BatcherOptions{SendTimeout: time.Second}, true)
		d.Dispatch(sampleEvent("a"), nil)
		if got := len(exp.GetSpans()); got != 0 {
			t.Fatalf("exported %d spans, want 0", got)
		}
	})
}

func TestCapture(t *testing.T) {
	c := NewCapture()
	c.Dispatch(sampleEvent("a"), nil)
	c.Dispatch(sampleEvent("b"), nil)
	c.Dispatch(nil, nil)

	events := c.Events()
	if len(events) != 2 {
		t.Fatalf("captured %d events, want 2", len(events))
	}
	if events[0].Inputs == nil {
		t.Error("captured events should have normalized sections")
	}
	if !c.Flush(time.Millisecond) {
		t.Error("capture flush should succeed")
	}
	c.Reset()
	if len(c.Events()) != 0 {
		t.Error("reset should clear events")
	}
}
