// Package honeyhive is a client-side tracing SDK for LLM applications.
//
// A Tracer wraps an OpenTelemetry pipeline that enriches spans with
// session context, translates third-party instrumentation attributes
// (OpenInference, Traceloop, OpenLIT) into HoneyHive's canonical event
// schema, and ships the result to the backend over the events API or
// OTLP. Tracer instances are fully isolated: each owns its logger,
// caches, baggage, metrics, and provider, so several can run in one
// process without sharing state.
//
// The span pipeline never raises into host code. Configuration errors
// surface from New; enrichment validation errors surface from
// EnrichSpan and SessionStart; everything else degrades silently with a
// log line and a metric.
package honeyhive

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeyhiveai/honeyhive-go/internal/baggage"
	"github.com/honeyhiveai/honeyhive-go/internal/cache"
	"github.com/honeyhiveai/honeyhive-go/internal/config"
	"github.com/honeyhiveai/honeyhive-go/internal/dsl"
	"github.com/honeyhiveai/honeyhive-go/internal/envprofile"
	"github.com/honeyhiveai/honeyhive-go/internal/experiments"
	"github.com/honeyhiveai/honeyhive-go/internal/locks"
	"github.com/honeyhiveai/honeyhive-go/internal/metrics"
	"github.com/honeyhiveai/honeyhive-go/internal/processor"
	"github.com/honeyhiveai/honeyhive-go/internal/provider"
	"github.com/honeyhiveai/honeyhive-go/internal/safelog"
	"github.com/honeyhiveai/honeyhive-go/internal/transport"
)

// Options are the explicit constructor arguments. Every field can also
// come from HH_* environment variables; explicit values win.
type Options = config.Options

// Event is the canonical event shape delivered to the backend. Test
// mode captures these in memory, see CapturedEvents.
type Event = transport.Event

// ProviderInfo reports how the instance coexists with the host's
// OpenTelemetry setup.
type ProviderInfo struct {
	// Strategy is "main_provider", "secondary_provider", or
	// "console_fallback".
	Strategy string

	// GlobalClass is the classification of the global provider found at
	// init.
	GlobalClass string

	// InstalledGlobal is true when this instance's provider became the
	// global one.
	InstalledGlobal bool
}

// queueCapacity bounds the batch queue; overflow drops the oldest span.
const queueCapacity = 2048

// Tracer is one independent tracing instance.
type Tracer struct {
	id      string
	cfg     *config.Config
	profile envprofile.Profile

	log     *safelog.Logger
	caches  *cache.Manager
	metrics *metrics.Pipeline
	baggage *baggage.Store
	proc    *processor.Processor
	host    *provider.Host
	capture *transport.Capture

	lifecycle *locks.TimedMutex
	flushLock *locks.TimedMutex

	mu              sync.Mutex
	sessionActive   bool
	sessionExplicit bool
	sessionID       string
	shutdownDone    bool
}

// New resolves configuration, probes the environment, wires the span
// pipeline, and installs or isolates the tracer provider. The returned
// tracer already has an active session.
func New(opts Options) (*Tracer, error) {
	cfg, warnings, err := config.Resolve(opts, os.Getenv)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := safelog.New(safelog.Options{InstanceID: id, Verbose: cfg.Verbose})
	for _, w := range warnings {
		log.Warn("config adjusted", "detail", w)
	}

	pipe := metrics.New(id)
	caches := cache.NewManager(cache.Options{
		Enabled: cfg.CacheEnabled,
		MaxSize: cfg.CacheMaxSize,
		TTL:     cfg.CacheTTL,
	})
	profile := detectProfile(caches)
	store := baggage.NewStore(profile.LifecycleTimeout)

	bundle, err := dsl.Default()
	if err != nil {
		caches.Close()
		return nil, fmt.Errorf("honeyhive: translation bundle: %w", err)
	}

	t := &Tracer{
		id:        id,
		cfg:       cfg,
		profile:   profile,
		log:       log,
		caches:    caches,
		metrics:   pipe,
		baggage:   store,
		lifecycle: locks.NewTimedMutex(),
		flushLock: locks.NewTimedMutex(),
	}

	dispatcher, capture, fallback := t.buildDispatcher()
	t.capture = capture

	engine := dsl.NewEngine(bundle)
	t.proc = processor.New(processor.Options{
		Config:      cfg,
		Engine:      engine,
		Dispatcher:  dispatcher,
		Baggage:     store,
		Cache:       caches,
		Metrics:     pipe,
		Log:         log,
		Experiments: experiments.FromEnviron(os.Environ()),
	})
	t.host = provider.Setup(provider.Options{
		TracerID:    id,
		Processor:   t.proc,
		ServiceName: cfg.SessionName,
		Fallback:    fallback,
		Cache:       caches,
		Log:         log,
	})

	t.startSession(cfg.SessionName, cfg.SessionID, false)

	registerInstance(t)
	log.Debug("tracer initialized",
		"project", cfg.Project,
		"environment", string(profile.Kind),
		"strategy", string(t.host.Info().Strategy),
		"bundle_version", engine.BundleVersion(),
	)
	return t, nil
}

// detectProfile resolves the environment profile through the
// config-resolution cache; only the env and /proc probing is memoized,
// never anything derived from per-instance options.
func detectProfile(caches *cache.Manager) envprofile.Profile {
	if v, ok := caches.Get(cache.ConfigResolution, "environment_profile"); ok {
		if p, ok := v.(envprofile.Profile); ok {
			return p
		}
	}
	p := envprofile.Detect(os.Getenv)
	caches.Put(cache.ConfigResolution, "environment_profile", p)
	return p
}

// buildDispatcher picks the export mode resolved at init: capture in
// test mode, the events API when OTLP is disabled, OTLP otherwise. A
// failed OTLP exporter construction degrades to console output.
func (t *Tracer) buildDispatcher() (transport.Dispatcher, *transport.Capture, bool) {
	batcherOpts := transport.BatcherOptions{
		Capacity:    queueCapacity,
		MaxBatch:    t.cfg.BatchSize,
		Interval:    t.cfg.FlushInterval,
		SendTimeout: t.profile.ExportTimeout,
		Log:         t.log,
		Metrics:     t.metrics,
	}

	if t.cfg.TestMode {
		capture := transport.NewCapture()
		return capture, capture, false
	}

	if !t.cfg.OTLPEnabled {
		client := transport.NewEventsClient(transport.ClientOptions{
			ServerURL:          t.cfg.ServerURL,
			APIKey:             t.cfg.APIKey,
			Profile:            t.profile,
			Log:                t.log,
			Metrics:            t.metrics,
			DisableHTTPTracing: t.cfg.DisableHTTPTracing,
		})
		return transport.NewEventDispatcher(client, batcherOpts, t.cfg.DisableBatch), nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.profile.LifecycleTimeout)
	defer cancel()
	exporter, err := transport.NewOTLPExporter(ctx, transport.OTLPOptions{
		ServerURL: t.cfg.ServerURL,
		APIKey:    t.cfg.APIKey,
		Protocol:  t.cfg.OTLPProtocol,
		Profile:   t.profile,
	})
	if err != nil {
		t.log.Warn("otlp exporter unavailable, falling back to console", "error", err)
		console, cerr := provider.NewConsoleExporter(os.Stdout)
		if cerr != nil {
			// stdouttrace construction cannot realistically fail, but
			// the pipeline still needs an exporter.
			console = noopExporter{}
		}
		return transport.NewSpanDispatcher(console, batcherOpts, t.cfg.DisableBatch), nil, true
	}
	return transport.NewSpanDispatcher(exporter, batcherOpts, t.cfg.DisableBatch), nil, false
}

// Start begins a span through this instance's tracer. The returned
// context carries the instance baggage, so child spans and outbound
// propagation see the session.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.host.Tracer().Start(t.baggage.ContextWith(ctx), name, opts...)
}

// Tracer exposes the OTel tracer handle for hosts that manage spans
// themselves. Spans started this way should use a context from
// ContextWithBaggage to carry the session.
func (t *Tracer) Tracer() trace.Tracer {
	return t.host.Tracer()
}

// ContextWithBaggage attaches the instance's current baggage to ctx.
func (t *Tracer) ContextWithBaggage(ctx context.Context) context.Context {
	return t.baggage.ContextWith(ctx)
}

// ProviderInfo reports the coexistence strategy chosen at init.
func (t *Tracer) ProviderInfo() ProviderInfo {
	info := t.host.Info()
	return ProviderInfo{
		Strategy:        string(info.Strategy),
		GlobalClass:     string(info.GlobalClass),
		InstalledGlobal: info.InstalledGlobal,
	}
}

// EnvironmentKind reports the deployment environment detected at init:
// "serverless", "container", "high_concurrency", or "standard".
func (t *Tracer) EnvironmentKind() string {
	return string(t.profile.Kind)
}

// MetricsRegistry exposes the instance's Prometheus registry so hosts
// can scrape pipeline health counters.
func (t *Tracer) MetricsRegistry() *prometheus.Registry {
	return t.metrics.Registry()
}

// CapturedEvents returns the events recorded in test mode, nil
// otherwise.
func (t *Tracer) CapturedEvents() []*Event {
	if t.capture == nil {
		return nil
	}
	return t.capture.Events()
}

// Flush drains queued events and blocks until delivery finishes or the
// timeout expires. A non-positive timeout selects the environment
// profile's flush timeout. Returns false when the drain did not
// complete in time.
func (t *Tracer) Flush(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = t.profile.FlushTimeout
	}
	if err := t.flushLock.Lock(t.profile.FlushTimeout); err != nil {
		t.log.Debug("flush lock timed out")
		return false
	}
	defer t.flushLock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.proc.ForceFlush(ctx) == nil
}

// Shutdown flushes, stops background workers, releases the provider,
// and unregisters the instance. Idempotent; a lifecycle-lock timeout
// degrades to lock-free shutdown instead of hanging.
func (t *Tracer) Shutdown(ctx context.Context) error {
	locked := true
	if err := t.lifecycle.Lock(t.profile.LifecycleTimeout); err != nil {
		t.log.Warn("lifecycle lock timed out, shutting down lock-free")
		locked = false
	}
	if locked {
		defer t.lifecycle.Unlock()
	}

	t.mu.Lock()
	if t.shutdownDone {
		t.mu.Unlock()
		return nil
	}
	t.shutdownDone = true
	t.sessionActive = false
	t.mu.Unlock()

	unregisterInstance(t)
	t.caches.Close()

	// Provider shutdown drains the processor, which stops the
	// dispatcher and its workers.
	err := t.host.Shutdown(ctx)
	if err != nil {
		t.log.Warn("shutdown incomplete", "error", err)
	}
	return err
}

// noopExporter satisfies the exporter contract when even the console
// fallback could not be built.
type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopExporter) Shutdown(context.Context) error                             { return nil }
