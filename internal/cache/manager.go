// Package cache provides named, bounded, TTL-based caches scoped to a
// single tracer instance.
//
// Three caches back the pipeline's hot paths: attribute normalization
// (high churn), resource detection, and config resolution. Entries are
// never shared across instances; a cache error is always treated as a miss
// by callers, never surfaced.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Well-known cache names.
const (
	AttributeNormalization = "attribute_normalization"
	ResourceDetection      = "resource_detection"
	ConfigResolution       = "config_resolution"
)

// DefaultSweepInterval is how often the background sweep prunes expired
// entries across all caches.
const DefaultSweepInterval = 60 * time.Second

// Stats reports per-manager cache activity.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// entry is one cached value with its expiry and LRU position.
type entry struct {
	key     string
	value   any
	expires time.Time
	elem    *list.Element
}

// namedCache is a single bounded TTL cache.
type namedCache struct {
	entries map[string]*entry
	order   *list.List // front = oldest insertion
	ttl     time.Duration
	maxSize int
}

// Manager owns the named caches of one tracer instance.
type Manager struct {
	mu      sync.Mutex
	caches  map[string]*namedCache
	enabled bool
	stats   Stats
	stop    chan struct{}
	stopped sync.Once
	now     func() time.Time
}

// Options configures a Manager.
type Options struct {
	// Enabled is the master switch. When false every Get is a miss and
	// every Put a no-op; callers need no separate bypass path. The flag
	// is read from resolved config, never from the cache itself, which
	// breaks the potential recursion between caching and config
	// resolution.
	Enabled bool

	// MaxSize bounds each cache's entry count. <= 0 selects 1000.
	MaxSize int

	// TTL overrides the per-cache default TTLs when > 0.
	TTL time.Duration

	// SweepInterval is the background prune cadence. <= 0 selects the
	// default; a negative value disables the sweep (tests).
	SweepInterval time.Duration
}

// NewManager creates the instance's named caches and starts the background
// sweep.
func NewManager(opts Options) *Manager {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	ttlOr := func(def time.Duration) time.Duration {
		if opts.TTL > 0 {
			return opts.TTL
		}
		return def
	}

	m := &Manager{
		caches: map[string]*namedCache{
			AttributeNormalization: newNamedCache(ttlOr(5*time.Minute), maxSize),
			ResourceDetection:      newNamedCache(ttlOr(time.Hour), min(maxSize, 100)),
			ConfigResolution:       newNamedCache(ttlOr(15*time.Minute), min(maxSize, 100)),
		},
		enabled: opts.Enabled,
		stop:    make(chan struct{}),
		now:     time.Now,
	}

	interval := opts.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if m.enabled && interval > 0 {
		go m.sweepLoop(interval)
	}
	return m
}

func newNamedCache(ttl time.Duration, maxSize int) *namedCache {
	return &namedCache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get returns the cached value for key in the named cache. The second
// return is false on a miss, an expired entry, an unknown cache name, or a
// disabled manager.
func (m *Manager) Get(cacheName, key string) (any, bool) {
	if m == nil || !m.enabled {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.caches[cacheName]
	if !ok {
		m.stats.Misses++
		return nil, false
	}
	e, ok := c.entries[key]
	if !ok {
		m.stats.Misses++
		return nil, false
	}
	if m.now().After(e.expires) {
		c.remove(e)
		m.stats.Misses++
		return nil, false
	}
	m.stats.Hits++
	return e.value, true
}

// Put stores a value in the named cache, evicting the least-recently
// inserted entries when the cache is over capacity. Unknown cache names
// and disabled managers are silent no-ops.
func (m *Manager) Put(cacheName, key string, value any) {
	if m == nil || !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.caches[cacheName]
	if !ok {
		return
	}
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = m.now().Add(c.ttl)
		c.order.MoveToBack(e.elem)
		return
	}
	e := &entry{key: key, value: value, expires: m.now().Add(c.ttl)}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e

	for len(c.entries) > c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*entry))
		m.stats.Evictions++
	}
}

// Len reports the live entry count of a named cache.
func (m *Manager) Len(cacheName string) int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.caches[cacheName]; ok {
		return len(c.entries)
	}
	return 0
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (m *Manager) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close stops the background sweep. Idempotent.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.stopped.Do(func() { close(m.stop) })
}

func (m *Manager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep prunes expired entries across all caches.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, c := range m.caches {
		for e := c.order.Front(); e != nil; {
			next := e.Next()
			ent := e.Value.(*entry)
			if now.After(ent.expires) {
				c.remove(ent)
			}
			e = next
		}
	}
}

func (c *namedCache) remove(e *entry) {
	delete(c.entries, e.key)
	c.order.Remove(e.elem)
}
