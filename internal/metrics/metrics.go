// Package metrics tracks pipeline health counters on a per-instance
// Prometheus registry.
//
// Each tracer instance owns its own registry so two instances never collide
// on metric registration and a host can scrape them independently. The
// registry is exposed but never installed globally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Pipeline holds the counters incremented by the span processor and
// transport layer. All increments happen inside the pipeline's no-throw
// boundary; reads are for tests and host scraping.
type Pipeline struct {
	registry *prometheus.Registry

	// TranslationFailures counts DSL translations that fell back to the
	// pass-through event. Labels: kind (unknown_provider |
	// missing_required_field | transform_failed).
	TranslationFailures *prometheus.CounterVec

	// DroppedSpans counts events dropped on queue overflow or after
	// exhausted transport retries.
	DroppedSpans prometheus.Counter

	// ExportedEvents counts events successfully handed to the backend.
	ExportedEvents prometheus.Counter

	// ExportErrors counts failed export attempts (before retries give up).
	ExportErrors prometheus.Counter

	// CacheOps counts cache manager activity. Labels: result (hit | miss).
	CacheOps *prometheus.CounterVec
}

// New creates a Pipeline with a fresh registry labeled by tracer instance.
func New(tracerID string) *Pipeline {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"tracer_id": tracerID}

	return &Pipeline{
		registry: reg,
		TranslationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "honeyhive",
			Name:        "translation_failures_total",
			Help:        "Span translations that fell back to the pass-through event.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		DroppedSpans: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "honeyhive",
			Name:        "dropped_spans_total",
			Help:        "Events dropped on queue overflow or export failure.",
			ConstLabels: constLabels,
		}),
		ExportedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "honeyhive",
			Name:        "exported_events_total",
			Help:        "Events successfully delivered to the backend.",
			ConstLabels: constLabels,
		}),
		ExportErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "honeyhive",
			Name:        "export_errors_total",
			Help:        "Failed export attempts, counted per try.",
			ConstLabels: constLabels,
		}),
		CacheOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "honeyhive",
			Name:        "cache_ops_total",
			Help:        "Cache manager lookups by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
	}
}

// Registry exposes the instance registry for host scraping.
func (p *Pipeline) Registry() *prometheus.Registry {
	return p.registry
}

// CounterValue reads a plain counter's current value. Test helper.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	if m.Counter == nil || m.Counter.Value == nil {
		return 0
	}
	return *m.Counter.Value
}
