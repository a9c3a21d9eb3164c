package honeyhive

import (
	"context"
	"sync"
)

// Process-wide instance registry. The only state shared across tracers,
// and only so ShutdownAll can reach every live instance at process
// exit.
var (
	registryMu sync.Mutex
	registry   = map[*Tracer]struct{}{}
)

func registerInstance(t *Tracer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = struct{}{}
}

func unregisterInstance(t *Tracer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, t)
}

// ShutdownAll shuts down every live tracer instance, best-effort. Call
// it from main's deferred cleanup so queued events survive process
// exit.
func ShutdownAll(ctx context.Context) {
	registryMu.Lock()
	instances := make([]*Tracer, 0, len(registry))
	for t := range registry {
		instances = append(instances, t)
	}
	registryMu.Unlock()

	for _, t := range instances {
		if err := t.Shutdown(ctx); err != nil {
			t.log.Warn("shutdown during process exit failed", "error", err)
		}
	}
}
