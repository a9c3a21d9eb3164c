package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestManager(maxSize int) *Manager {
	return NewManager(Options{Enabled: true, MaxSize: maxSize, SweepInterval: -1})
}

func TestManager(t *testing.T) {
	t.Run("put and get round trip", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Close()
		m.Put(AttributeNormalization, "k", "v")
		got, ok := m.Get(AttributeNormalization, "k")
		if !ok || got != "v" {
			t.Fatalf("expected hit with v, got %v (%v)", got, ok)
		}
	})

	t.Run("miss on unknown key and cache", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Close()
		if _, ok := m.Get(AttributeNormalization, "absent"); ok {
			t.Error("expected miss for absent key")
		}
		if _, ok := m.Get("no_such_cache", "k"); ok {
			t.Error("expected miss for unknown cache")
		}
		m.Put("no_such_cache", "k", "v") // silent no-op
	})

	t.Run("entries expire by ttl", func(t *testing.T) {
		m := NewManager(Options{Enabled: true, MaxSize: 10, TTL: time.Minute, SweepInterval: -1})
		defer m.Close()
		base := time.Now()
		m.now = func() time.Time { return base }
		m.Put(ConfigResolution, "k", 42)
		m.now = func() time.Time { return base.Add(2 * time.Minute) }
		if _, ok := m.Get(ConfigResolution, "k"); ok {
			t.Error("expected expired entry to miss")
		}
	})

	t.Run("eviction drops least recently inserted", func(t *testing.T) {
		m := newTestManager(3)
		defer m.Close()
		for i := 0; i < 4; i++ {
			m.Put(AttributeNormalization, fmt.Sprintf("k%d", i), i)
		}
		if _, ok := m.Get(AttributeNormalization, "k0"); ok {
			t.Error("expected oldest entry to be evicted")
		}
		if _, ok := m.Get(AttributeNormalization, "k3"); !ok {
			t.Error("expected newest entry to survive")
		}
		if st := m.Stats(); st.Evictions != 1 {
			t.Errorf("expected 1 eviction, got %d", st.Evictions)
		}
	})

	t.Run("disabled manager bypasses entirely", func(t *testing.T) {
		m := NewManager(Options{Enabled: false, SweepInterval: -1})
		defer m.Close()
		m.Put(AttributeNormalization, "k", "v")
		if _, ok := m.Get(AttributeNormalization, "k"); ok {
			t.Error("disabled cache must always miss")
		}
	})

	t.Run("background sweep prunes expired entries", func(t *testing.T) {
		m := NewManager(Options{Enabled: true, MaxSize: 10, TTL: time.Nanosecond, SweepInterval: 10 * time.Millisecond})
		defer m.Close()
		m.Put(AttributeNormalization, "k", "v")
		deadline := time.After(2 * time.Second)
		for m.Len(AttributeNormalization) > 0 {
			select {
			case <-deadline:
				t.Fatal("sweep did not prune expired entry")
			case <-time.After(10 * time.Millisecond):
			}
		}
	})

	t.Run("safe under concurrent access", func(t *testing.T) {
		m := newTestManager(100)
		defer m.Close()
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					key := fmt.Sprintf("k%d", i%50)
					m.Put(AttributeNormalization, key, g)
					m.Get(AttributeNormalization, key)
				}
			}(g)
		}
		wg.Wait()
	})

	t.Run("close is idempotent", func(t *testing.T) {
		m := newTestManager(10)
		m.Close()
		m.Close()
	})

	t.Run("nil manager is inert", func(t *testing.T) {
		var m *Manager
		m.Put(AttributeNormalization, "k", "v")
		if _, ok := m.Get(AttributeNormalization, "k"); ok {
			t.Error("nil manager must miss")
		}
		m.Close()
	})
}
