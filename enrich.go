package honeyhive

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeyhiveai/honeyhive-go/internal/dsl"
	"github.com/honeyhiveai/honeyhive-go/internal/processor"
)

// Enrichment attaches structured data to a span. Each section map lands
// in the corresponding section of the resulting event; values that are
// not scalars are JSON-encoded for the wire.
type Enrichment struct {
	Metadata map[string]any
	Metrics  map[string]any
	Feedback map[string]any
	Config   map[string]any
	Inputs   map[string]any
	Outputs  map[string]any

	// EventType overrides detection: "model", "chain", "tool", or
	// "session".
	EventType string

	// EventID overrides the derived event id; must be a UUID.
	EventID string

	// Error marks the event as failed with the given message.
	Error string
}

// Valid event type overrides.
var validEventTypes = map[string]struct{}{
	dsl.EventTypeModel: {}, dsl.EventTypeChain: {},
	dsl.EventTypeTool: {}, dsl.EventTypeSession: {},
}

// EnrichSpan attaches the enrichment to span. Validation failures
// (bad UUID, unknown event type, ended span) return an error and write
// nothing; they never disturb the span itself.
func (t *Tracer) EnrichSpan(span trace.Span, e Enrichment) error {
	if span == nil {
		return fmt.Errorf("honeyhive: enrich: nil span")
	}
	// The SDK span drops attribute writes once it has ended, so a late
	// enrichment would silently vanish from the event.
	if !span.IsRecording() {
		return fmt.Errorf("honeyhive: enrich: span has ended")
	}
	if e.EventID != "" {
		if _, err := uuid.Parse(e.EventID); err != nil {
			return fmt.Errorf("honeyhive: enrich: event_id must be a valid UUID")
		}
	}
	if e.EventType != "" {
		if _, ok := validEventTypes[e.EventType]; !ok {
			return fmt.Errorf("honeyhive: enrich: unknown event type %q", e.EventType)
		}
	}

	if e.EventID != "" {
		span.SetAttributes(attribute.String(processor.AttrEventID, e.EventID))
	}
	if e.EventType != "" {
		span.SetAttributes(attribute.String(dsl.AttrEventTypeRaw, e.EventType))
	}
	if e.Error != "" {
		span.SetAttributes(attribute.String(processor.AttrError, e.Error))
	}
	setSection(span, processor.PrefixMetadata, e.Metadata)
	setSection(span, processor.PrefixMetrics, e.Metrics)
	setSection(span, processor.PrefixFeedback, e.Feedback)
	setSection(span, processor.PrefixConfig, e.Config)
	setSection(span, processor.PrefixInputs, e.Inputs)
	setSection(span, processor.PrefixOutputs, e.Outputs)
	return nil
}

func setSection(span trace.Span, prefix string, section map[string]any) {
	for key, value := range section {
		span.SetAttributes(sectionAttribute(prefix+key, value))
	}
}

// sectionAttribute maps a Go value onto an OTel attribute, JSON-encoding
// anything without a native wire type.
func sectionAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return attribute.String(key, fmt.Sprintf("%v", value))
		}
		return attribute.String(key, string(encoded))
	}
}
