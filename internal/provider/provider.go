// Package provider decides how a tracer instance coexists with the
// host application's OpenTelemetry setup.
//
// Before installing anything, the global tracer provider is classified.
// A host that never configured OTel has the no-op or proxy placeholder
// installed; we become the main provider. A host with a functioning SDK
// provider keeps it untouched; we run a secondary provider whose spans
// flow only through our own processor. When the real exporter cannot be
// built, a console exporter stands in so instrumentation keeps working
// visibly instead of silently.
package provider

import (
	"context"
	"io"
	"reflect"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/honeyhiveai/honeyhive-go/internal/cache"
	"github.com/honeyhiveai/honeyhive-go/internal/safelog"
)

// Class is the classification of the host's global tracer provider.
type Class string

const (
	// ClassNoop is the OTel no-op provider: the host never set one up.
	ClassNoop Class = "noop"

	// ClassProxy is the global delegator placeholder that forwards to
	// whatever gets installed later. Treated like noop: nothing
	// functioning is present yet.
	ClassProxy Class = "proxy"

	// ClassSDK is a functioning OTel SDK tracer provider owned by the host.
	ClassSDK Class = "sdk"

	// ClassRegistrable is a custom provider exposing RegisterSpanProcessor.
	ClassRegistrable Class = "registrable"

	// ClassOpaque is any other custom provider.
	ClassOpaque Class = "opaque"
)

// Strategy names the coexistence mode chosen at setup.
type Strategy string

const (
	// StrategyMain installs our provider as the global one.
	StrategyMain Strategy = "main_provider"

	// StrategySecondary runs our provider alongside the host's without
	// touching global state.
	StrategySecondary Strategy = "secondary_provider"

	// StrategyConsoleFallback replaces a failed exporter with console
	// output. Orthogonal to main/secondary; recorded for diagnostics.
	StrategyConsoleFallback Strategy = "console_fallback"
)

// registrar matches providers that accept external span processors.
type registrar interface {
	RegisterSpanProcessor(sdktrace.SpanProcessor)
}

// Classify inspects the given provider, usually otel.GetTracerProvider().
func Classify(tp trace.TracerProvider) Class {
	switch tp.(type) {
	case noop.TracerProvider, *noop.TracerProvider:
		return ClassNoop
	case *sdktrace.TracerProvider:
		return ClassSDK
	}
	if isGlobalProxy(tp) {
		return ClassProxy
	}
	if _, ok := tp.(registrar); ok {
		return ClassRegistrable
	}
	return ClassOpaque
}

// isGlobalProxy detects the otel/internal/global delegator by package
// path, the only signal its unexported type leaves.
func isGlobalProxy(tp trace.TracerProvider) bool {
	t := reflect.TypeOf(tp)
	if t == nil {
		return false
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.Contains(t.PkgPath(), "otel/internal/global")
}

// Info records the coexistence decision for diagnostics and tests.
type Info struct {
	Strategy    Strategy
	GlobalClass Class

	// InstalledGlobal is true when our provider became the global one.
	InstalledGlobal bool
}

// Options configures Setup.
type Options struct {
	// TracerID names the instance; it tags the provider resource and the
	// tracer scope.
	TracerID string

	// Processor is the instance's span processor, registered on the new
	// provider before any span starts.
	Processor sdktrace.SpanProcessor

	// ServiceName tags the provider resource, typically the session name.
	ServiceName string

	// Fallback marks that the exporter behind Processor is the console
	// stand-in; recorded in Info.
	Fallback bool

	// Cache memoizes the detected base resource, so repeated setups
	// against the same cache skip the environment sniffing.
	Cache *cache.Manager

	Log *safelog.Logger
}

// Host owns one instance's tracer provider and the global-state
// bookkeeping needed to undo installation at shutdown.
type Host struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	info       Info
	prevGlobal trace.TracerProvider
}

// Setup classifies the global provider, builds the instance provider,
// and installs it globally only when nothing functioning is present.
func Setup(opts Options) *Host {
	global := otel.GetTracerProvider()
	class := Classify(global)

	res, err := resource.Merge(detectBaseResource(opts.Cache), resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("honeyhive.tracer_id", opts.TracerID),
	))
	if err != nil {
		// Schema conflicts leave the merged part intact; fall back to
		// just our attributes.
		res = resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("honeyhive.tracer_id", opts.TracerID),
		)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(opts.Processor),
	)

	h := &Host{
		provider: tp,
		tracer:   tp.Tracer("honeyhive.tracer/" + opts.TracerID),
		info:     Info{GlobalClass: class},
	}
	if opts.Fallback {
		h.info.Strategy = StrategyConsoleFallback
	}

	switch class {
	case ClassNoop, ClassProxy:
		h.prevGlobal = global
		otel.SetTracerProvider(tp)
		h.info.InstalledGlobal = true
		if h.info.Strategy == "" {
			h.info.Strategy = StrategyMain
		}
		opts.Log.Debug("installed as global tracer provider", "previous", string(class))
	default:
		if h.info.Strategy == "" {
			h.info.Strategy = StrategySecondary
		}
		opts.Log.Debug("running as secondary tracer provider", "host", string(class))
	}
	return h
}

// detectBaseResource resolves the environment-derived resource through
// the resource-detection cache. Per-instance attributes are merged on
// top by the caller; only the detected base is cached.
func detectBaseResource(c *cache.Manager) *resource.Resource {
	if v, ok := c.Get(cache.ResourceDetection, "base"); ok {
		if res, ok := v.(*resource.Resource); ok {
			return res
		}
	}
	res := resource.Default()
	c.Put(cache.ResourceDetection, "base", res)
	return res
}

// Tracer returns the instance-scoped tracer.
func (h *Host) Tracer() trace.Tracer {
	return h.tracer
}

// Provider exposes the underlying SDK provider for host integration.
func (h *Host) Provider() *sdktrace.TracerProvider {
	return h.provider
}

// Info reports the coexistence decision.
func (h *Host) Info() Info {
	return h.info
}

// Shutdown stops the provider and, if we had installed globally,
// restores the provider that was there before.
func (h *Host) Shutdown(ctx context.Context) error {
	if h.info.InstalledGlobal && h.prevGlobal != nil {
		// Only restore if nobody replaced us in the meantime. The
		// delegator placeholder cannot be reinstalled, so it maps to a
		// plain noop provider.
		if otel.GetTracerProvider() == trace.TracerProvider(h.provider) {
			restore := h.prevGlobal
			if Classify(restore) == ClassProxy {
				restore = noop.NewTracerProvider()
			}
			otel.SetTracerProvider(restore)
		}
	}
	return h.provider.Shutdown(ctx)
}

// NewConsoleExporter builds the stdout stand-in exporter used when the
// real exporter cannot be constructed.
func NewConsoleExporter(w io.Writer) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithoutTimestamps(),
	)
}
