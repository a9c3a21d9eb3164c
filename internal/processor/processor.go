// Package processor implements the span processor at the center of the
// pipeline: it enriches spans with session context when they start and
// turns them into canonical events when they end.
//
// Everything here runs inside the host application's span lifecycle, so
// the whole surface is a no-throw boundary: any panic is recovered,
// logged, and counted. A translation failure degrades to a pass-through
// event rather than losing the span.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/honeyhiveai/honeyhive-go/internal/baggage"
	"github.com/honeyhiveai/honeyhive-go/internal/cache"
	"github.com/honeyhiveai/honeyhive-go/internal/config"
	"github.com/honeyhiveai/honeyhive-go/internal/dsl"
	"github.com/honeyhiveai/honeyhive-go/internal/experiments"
	"github.com/honeyhiveai/honeyhive-go/internal/metrics"
	"github.com/honeyhiveai/honeyhive-go/internal/safelog"
	"github.com/honeyhiveai/honeyhive-go/internal/transport"
)

// Control attributes set by the tracer on spans it owns.
const (
	AttrSessionID      = "honeyhive.session_id"
	AttrProject        = "honeyhive.project"
	AttrSource         = "honeyhive.source"
	AttrUserProperties = "honeyhive.user_properties"
	AttrError          = "honeyhive_error"
	AttrEventID        = "honeyhive_event_id"
)

// Enrichment prefixes used by span-level setters. The suffix after the
// prefix becomes the key inside the corresponding event section.
const (
	PrefixMetadata = "honeyhive_metadata."
	PrefixMetrics  = "honeyhive_metrics."
	PrefixFeedback = "honeyhive_feedback."
	PrefixConfig   = "honeyhive_config."
	PrefixInputs   = "honeyhive_inputs."
	PrefixOutputs  = "honeyhive_outputs."
)

// prefixAssociation mirrors session identity onto the attribute
// namespace Traceloop-instrumented hosts already index on.
const prefixAssociation = "traceloop.association.properties."

// identRe matches characters that are not valid in backend field names.
// Dots survive: they are the conventional attribute namespace separator.
var identRe = regexp.MustCompile(`[^A-Za-z0-9_.]`)

// reservedEventKeys are top-level wire keys a normalized attribute must
// not shadow.
var reservedEventKeys = map[string]struct{}{
	"project": {}, "source": {}, "event_name": {}, "event_type": {},
	"event_id": {}, "session_id": {}, "parent_id": {}, "config": {},
	"inputs": {}, "outputs": {}, "metadata": {}, "user_properties": {},
	"metrics": {}, "feedback": {}, "error": {}, "start_time": {},
	"end_time": {}, "duration": {},
}

// Options wires a Processor to its instance-scoped collaborators.
type Options struct {
	Config      *config.Config
	Engine      *dsl.Engine
	Dispatcher  transport.Dispatcher
	Baggage     *baggage.Store
	Cache       *cache.Manager
	Metrics     *metrics.Pipeline
	Log         *safelog.Logger
	Experiments experiments.Context
}

// Processor is the sdktrace.SpanProcessor for one tracer instance.
type Processor struct {
	cfg        *config.Config
	engine     *dsl.Engine
	dispatcher transport.Dispatcher
	baggage    *baggage.Store
	cache      *cache.Manager
	metrics    *metrics.Pipeline
	log        *safelog.Logger
	exp        experiments.Context
}

// New builds a Processor. All fields of opts except Experiments must be
// set.
func New(opts Options) *Processor {
	return &Processor{
		cfg:        opts.Config,
		engine:     opts.Engine,
		dispatcher: opts.Dispatcher,
		baggage:    opts.Baggage,
		cache:      opts.Cache,
		metrics:    opts.Metrics,
		log:        opts.Log,
		exp:        opts.Experiments,
	}
}

var _ sdktrace.SpanProcessor = (*Processor)(nil)

// OnStart stamps session identity from the ambient baggage onto the
// span, plus any active experiment-harness identifiers. A span started
// outside a session gets only the harness attributes.
func (p *Processor) OnStart(parent context.Context, span sdktrace.ReadWriteSpan) {
	defer p.recoverAndLog("on_start")

	if attrs := p.exp.Attributes(); len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	bag := baggage.FromContext(parent)
	sessionID := bag[baggage.KeySessionID]
	if sessionID == "" {
		// Ambient baggage may be absent when the host started the span
		// from a detached context; fall back to the instance store.
		sessionID, _ = p.baggage.Get(baggage.KeySessionID)
	}
	if sessionID == "" {
		return
	}
	project := p.lookup(bag, baggage.KeyProject)
	source := p.lookup(bag, baggage.KeySource)

	span.SetAttributes(
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrProject, project),
		attribute.String(AttrSource, source),
		attribute.String(prefixAssociation+"session_id", sessionID),
	)
	if tags := p.baggage.Tags(); len(tags) > 0 {
		if encoded, err := json.Marshal(tags); err == nil {
			span.SetAttributes(attribute.String(AttrUserProperties, string(encoded)))
		}
	}
}

// OnEnd translates the finished span into a canonical event and hands
// it to the dispatcher. Runs entirely on the caller's goroutine, so it
// does no network work itself.
func (p *Processor) OnEnd(span sdktrace.ReadOnlySpan) {
	defer p.recoverAndLog("on_end")
	if span == nil {
		return
	}
	ev := p.buildEvent(span)
	p.dispatcher.Dispatch(ev, span)
}

// EmitEvent dispatches an event that has no backing span, such as the
// session boundary events.
func (p *Processor) EmitEvent(ev *transport.Event) {
	defer p.recoverAndLog("emit_event")
	p.dispatcher.Dispatch(ev, nil)
}

// Shutdown flushes and stops the dispatcher.
func (p *Processor) Shutdown(ctx context.Context) error {
	return p.dispatcher.Shutdown(ctx)
}

// ForceFlush drains the dispatcher within ctx's deadline.
func (p *Processor) ForceFlush(ctx context.Context) error {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !p.dispatcher.Flush(timeout) {
		return context.DeadlineExceeded
	}
	return nil
}

func (p *Processor) buildEvent(span sdktrace.ReadOnlySpan) *transport.Event {
	raw := map[string]any{}
	for _, kv := range span.Attributes() {
		raw[string(kv.Key)] = kv.Value.AsInterface()
	}

	control, enrich, bag := splitAttributes(raw)
	eventType := p.engine.DetectEventType(span.Name(), raw)

	var sections dsl.Sections
	provider, translated, err := p.engine.Translate(bag, "")
	if err != nil {
		var terr *dsl.TranslationError
		kind := dsl.KindUnknownProvider
		if errors.As(err, &terr) {
			kind = terr.Kind
		}
		p.metrics.TranslationFailures.WithLabelValues(kind).Inc()
		p.log.Debug("translation fell back to pass-through", "span", span.Name(), "kind", kind)
		sections = p.passThrough(bag)
		sections.Metadata["translation_status"] = kind
	} else {
		sections = translated
		sections.Metadata["translation_provider"] = provider
	}

	mergeSection(sections.Metadata, enrich[PrefixMetadata])
	mergeSection(sections.Config, enrich[PrefixConfig])
	mergeSection(sections.Inputs, enrich[PrefixInputs])
	mergeSection(sections.Outputs, enrich[PrefixOutputs])
	if md := p.exp.Metadata(); md != nil {
		mergeSection(sections.Metadata, md)
	}

	sc := span.SpanContext()
	ev := &transport.Event{
		Project:   p.cfg.Project,
		Source:    p.cfg.Source,
		EventName: span.Name(),
		EventType: eventType,
		EventID:   transport.DeterministicEventID(sc.TraceID().String() + "/" + sc.SpanID().String()),
		SessionID: p.sessionID(control),
		Config:    sections.Config,
		Inputs:    sections.Inputs,
		Outputs:   sections.Outputs,
		Metadata:  sections.Metadata,
		StartTime: epochMillis(span.StartTime()),
		EndTime:   epochMillis(span.EndTime()),
	}
	ev.Duration = ev.EndTime - ev.StartTime
	if id, ok := control[AttrEventID].(string); ok && id != "" {
		// Validated as a UUID at the enrichment call site.
		ev.EventID = id
	}
	if parent := span.Parent(); parent.IsValid() {
		ev.ParentID = transport.DeterministicEventID(parent.TraceID().String() + "/" + parent.SpanID().String())
	}
	if props, ok := control[AttrUserProperties].(string); ok && props != "" {
		var decoded map[string]any
		if json.Unmarshal([]byte(props), &decoded) == nil {
			ev.UserProperties = decoded
		}
	}
	if m := enrich[PrefixMetrics]; len(m) > 0 {
		ev.Metrics = m
	}
	if f := enrich[PrefixFeedback]; len(f) > 0 {
		ev.Feedback = f
	}
	ev.Error = spanError(span, control)
	ev.NormalizeSections()
	return ev
}

// splitAttributes partitions raw span attributes into control keys
// (honeyhive.*), enrichment sections (honeyhive_<section>.*), and the
// bag handed to provider translation.
func splitAttributes(raw map[string]any) (control map[string]any, enrich map[string]map[string]any, bag map[string]any) {
	control = map[string]any{}
	enrich = map[string]map[string]any{
		PrefixMetadata: {}, PrefixMetrics: {}, PrefixFeedback: {},
		PrefixConfig: {}, PrefixInputs: {}, PrefixOutputs: {},
	}
	bag = map[string]any{}

	for key, value := range raw {
		switch {
		case key == AttrSessionID, key == AttrProject, key == AttrSource,
			key == AttrUserProperties, key == AttrError, key == AttrEventID,
			key == dsl.AttrEventTypeRaw, key == dsl.AttrEventType:
			control[key] = value
		case strings.HasPrefix(key, prefixAssociation):
			// Mirror of control state; not event content.
		case liftEnrichment(enrich, key, value):
		case strings.HasPrefix(key, "honeyhive_experiment_"):
			// Already rendered into metadata from the experiment context.
		default:
			bag[key] = value
		}
	}
	return control, enrich, bag
}

func liftEnrichment(enrich map[string]map[string]any, key string, value any) bool {
	for prefix, target := range enrich {
		if strings.HasPrefix(key, prefix) {
			field := strings.TrimPrefix(key, prefix)
			if field != "" {
				target[field] = decodeEnriched(value)
			}
			return true
		}
	}
	return false
}

// decodeEnriched restores structured enrichment values that were
// JSON-encoded to fit into a string attribute.
func decodeEnriched(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return s
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return s
	}
	return decoded
}

// passThrough preserves an untranslatable span verbatim: every
// remaining attribute lands in outputs under a normalized key.
func (p *Processor) passThrough(bag map[string]any) dsl.Sections {
	sections := dsl.Sections{
		Inputs:   map[string]any{},
		Outputs:  map[string]any{},
		Config:   map[string]any{},
		Metadata: map[string]any{},
	}
	for key, value := range bag {
		sections.Outputs[p.normalizeKey(key)] = value
	}
	return sections
}

// normalizeKey maps an attribute key to a backend-safe field name,
// consulting the per-instance normalization cache first.
func (p *Processor) normalizeKey(key string) string {
	if v, ok := p.cache.Get(cache.AttributeNormalization, key); ok {
		p.metrics.CacheOps.WithLabelValues("hit").Inc()
		if s, ok := v.(string); ok {
			return s
		}
	}
	p.metrics.CacheOps.WithLabelValues("miss").Inc()
	norm := identRe.ReplaceAllString(key, "_")
	if _, reserved := reservedEventKeys[norm]; reserved {
		norm = "attr_" + norm
	}
	p.cache.Put(cache.AttributeNormalization, key, norm)
	return norm
}

func (p *Processor) sessionID(control map[string]any) string {
	if id, ok := control[AttrSessionID].(string); ok && id != "" {
		return id
	}
	id, _ := p.baggage.Get(baggage.KeySessionID)
	return id
}

// lookup prefers the context baggage and falls back to the instance
// store, then to resolved config.
func (p *Processor) lookup(bag map[string]string, key string) string {
	if v := bag[key]; v != "" {
		return v
	}
	if v, ok := p.baggage.Get(key); ok && v != "" {
		return v
	}
	switch key {
	case baggage.KeyProject:
		return p.cfg.Project
	case baggage.KeySource:
		return p.cfg.Source
	}
	return ""
}

func spanError(span sdktrace.ReadOnlySpan, control map[string]any) string {
	if msg, ok := control[AttrError].(string); ok && msg != "" {
		return msg
	}
	if st := span.Status(); st.Code == codes.Error {
		if st.Description != "" {
			return st.Description
		}
		return "error"
	}
	return ""
}

func mergeSection(dst map[string]any, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func epochMillis(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}

func (p *Processor) recoverAndLog(stage string) {
	if r := recover(); r != nil {
		p.log.Error("span pipeline panic recovered", "stage", stage, "panic", r)
		if p.metrics != nil {
			p.metrics.DroppedSpans.Inc()
		}
	}
}
