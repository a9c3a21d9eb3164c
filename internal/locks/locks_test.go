package locks

import (
	"testing"
	"time"
)

func TestTimedMutex(t *testing.T) {
	t.Run("lock and unlock", func(t *testing.T) {
		m := NewTimedMutex()
		if err := m.Lock(time.Second); err != nil {
			t.Fatalf("lock failed: %v", err)
		}
		m.Unlock()
		if err := m.Lock(time.Second); err != nil {
			t.Fatalf("relock failed: %v", err)
		}
		m.Unlock()
	})

	t.Run("contended lock times out", func(t *testing.T) {
		m := NewTimedMutex()
		if err := m.Lock(time.Second); err != nil {
			t.Fatalf("lock failed: %v", err)
		}
		defer m.Unlock()

		start := time.Now()
		err := m.Lock(50 * time.Millisecond)
		if err != ErrTimeout {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if time.Since(start) > time.Second {
			t.Error("timeout took too long")
		}
	})

	t.Run("zero timeout is non-blocking", func(t *testing.T) {
		m := NewTimedMutex()
		if err := m.Lock(0); err != nil {
			t.Fatalf("uncontended trylock failed: %v", err)
		}
		if err := m.Lock(0); err != ErrTimeout {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("unlock of unlocked mutex is a no-op", func(t *testing.T) {
		m := NewTimedMutex()
		m.Unlock()
		if err := m.TryLock(); err != nil {
			t.Fatalf("lock after spurious unlock failed: %v", err)
		}
	})
}
