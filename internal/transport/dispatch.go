package transport

import (
	"context"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/honeyhiveai/honeyhive-go/internal/metrics"
	"github.com/honeyhiveai/honeyhive-go/internal/safelog"
)

// Dispatcher receives one canonical event per finished span and moves it
// toward the backend. Dispatch never blocks the caller beyond the
// configured send timeout and never returns an error: delivery failures
// are counted, not propagated into span lifecycle.
type Dispatcher interface {
	Dispatch(ev *Event, span sdktrace.ReadOnlySpan)
	Flush(timeout time.Duration) bool
	Shutdown(ctx context.Context) error
}

// EventDispatcher delivers canonical events through the events API,
// either batched or one request per event.
type EventDispatcher struct {
	client  *EventsClient
	batcher *Batcher[*Event]
	timeout time.Duration
	metrics *metrics.Pipeline
	log     *safelog.Logger
}

// NewEventDispatcher wires the events-API path. With immediate true each
// event becomes its own synchronous request; otherwise events accumulate
// in a bounded batcher.
func NewEventDispatcher(client *EventsClient, opts BatcherOptions, immediate bool) *EventDispatcher {
	d := &EventDispatcher{
		client:  client,
		timeout: opts.SendTimeout,
		metrics: opts.Metrics,
		log:     opts.Log,
	}
	if d.timeout <= 0 {
		d.timeout = 30 * time.Second
	}
	if !immediate {
		d.batcher = NewBatcher(func(ctx context.Context, batch []*Event) error {
			return client.SendBatch(ctx, batch)
		}, opts)
	}
	return d
}

func (d *EventDispatcher) Dispatch(ev *Event, _ sdktrace.ReadOnlySpan) {
	if d.batcher != nil {
		d.batcher.Enqueue(ev)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.client.SendBatch(ctx, []*Event{ev}); err != nil {
		d.log.Warn("event delivery failed", "event", ev.EventName, "error", err)
		if d.metrics != nil {
			d.metrics.DroppedSpans.Inc()
		}
	}
}

func (d *EventDispatcher) Flush(timeout time.Duration) bool {
	if d.batcher == nil {
		return true
	}
	return d.batcher.Flush(timeout)
}

func (d *EventDispatcher) Shutdown(ctx context.Context) error {
	if d.batcher == nil {
		return nil
	}
	return d.batcher.Stop(ctx)
}

// SpanDispatcher delivers raw spans through an OTLP (or console) span
// exporter, either synchronously per span or through a bounded batcher
// that drops oldest on overflow.
type SpanDispatcher struct {
	exporter sdktrace.SpanExporter
	batcher  *Batcher[sdktrace.ReadOnlySpan]
	timeout  time.Duration
	metrics  *metrics.Pipeline
	log      *safelog.Logger
}

// NewSpanDispatcher wires the span-export path around an existing
// exporter. Ownership transfers: Shutdown stops the exporter too.
func NewSpanDispatcher(exporter sdktrace.SpanExporter, opts BatcherOptions, immediate bool) *SpanDispatcher {
	d := &SpanDispatcher{
		exporter: exporter,
		timeout:  opts.SendTimeout,
		metrics:  opts.Metrics,
		log:      opts.Log,
	}
	if d.timeout <= 0 {
		d.timeout = 30 * time.Second
	}
	if !immediate {
		d.batcher = NewBatcher(func(ctx context.Context, batch []sdktrace.ReadOnlySpan) error {
			if err := exporter.ExportSpans(ctx, batch); err != nil {
				if opts.Metrics != nil {
					opts.Metrics.ExportErrors.Inc()
				}
				return err
			}
			if opts.Metrics != nil {
				opts.Metrics.ExportedEvents.Add(float64(len(batch)))
			}
			return nil
		}, opts)
	}
	return d
}

func (d *SpanDispatcher) Dispatch(_ *Event, span sdktrace.ReadOnlySpan) {
	if span == nil {
		return
	}
	if d.batcher != nil {
		d.batcher.Enqueue(span)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.exporter.ExportSpans(ctx, []sdktrace.ReadOnlySpan{span}); err != nil {
		d.log.Warn("span export failed", "span", span.Name(), "error", err)
		if d.metrics != nil {
			d.metrics.ExportErrors.Inc()
			d.metrics.DroppedSpans.Inc()
		}
		return
	}
	if d.metrics != nil {
		d.metrics.ExportedEvents.Inc()
	}
}

func (d *SpanDispatcher) Flush(timeout time.Duration) bool {
	if d.batcher == nil {
		return true
	}
	return d.batcher.Flush(timeout)
}

func (d *SpanDispatcher) Shutdown(ctx context.Context) error {
	var stopErr error
	if d.batcher != nil {
		stopErr = d.batcher.Stop(ctx)
	}
	if err := d.exporter.Shutdown(ctx); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

// Capture is the test-mode dispatcher: it records events in memory and
// never touches the network.
type Capture struct {
	mu     sync.Mutex
	events []*Event
}

// NewCapture returns an empty capture dispatcher.
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) Dispatch(ev *Event, _ sdktrace.ReadOnlySpan) {
	if ev == nil {
		return
	}
	ev.NormalizeSections()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of everything captured so far.
func (c *Capture) Events() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

// Reset clears the captured events.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func (c *Capture) Flush(time.Duration) bool { return true }

func (c *Capture) Shutdown(context.Context) error { return nil }
