// Package baggage implements per-instance propagation of session, project,
// source, and user-defined tags across span boundaries, goroutines, and
// outbound requests.
//
// Every tracer instance owns one Store; two instances never share a baggage
// map. Reads are non-blocking (copy-on-write snapshots); writes serialize
// on a timed lock sized by the environment profile. The ambient flow into
// spans rides OpenTelemetry baggage: ContextWith attaches a snapshot to the
// context, and the span processor reads it back at span start.
package baggage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	otelbaggage "go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"

	"github.com/honeyhiveai/honeyhive-go/internal/locks"
)

// HeaderKey is the W3C baggage carrier key.
const HeaderKey = "baggage"

// Keys reserved by the system. User code cannot remove them; SessionStart
// may overwrite session_id.
const (
	KeySessionID = "session_id"
	KeyProject   = "project"
	KeySource    = "source"
)

// TagPrefix namespaces user tags inside the flat baggage map.
const TagPrefix = "tag."

var reservedKeys = map[string]struct{}{
	KeySessionID: {},
	KeyProject:   {},
	KeySource:    {},
}

// ErrReservedKey is returned when user code tries to remove a system key.
var ErrReservedKey = fmt.Errorf("baggage: key is reserved")

// Store is one tracer instance's baggage map.
type Store struct {
	mu      *locks.TimedMutex
	timeout time.Duration
	// snapshot holds an immutable map replaced wholesale on write, so
	// reads never block on the write lock.
	snapshot atomic.Pointer[map[string]string]
}

// NewStore creates an empty Store whose writes time out after lockTimeout.
func NewStore(lockTimeout time.Duration) *Store {
	s := &Store{mu: locks.NewTimedMutex(), timeout: lockTimeout}
	empty := map[string]string{}
	s.snapshot.Store(&empty)
	return s
}

// Set stores a key. Returns locks.ErrTimeout when the write lock cannot be
// acquired in time; the write is skipped, not queued.
func (s *Store) Set(key, value string) error {
	return s.update(func(m map[string]string) { m[key] = value })
}

// SetTag stores a user tag under the tag namespace.
func (s *Store) SetTag(key, value string) error {
	return s.update(func(m map[string]string) { m[TagPrefix+key] = value })
}

// Get reads a key without blocking.
func (s *Store) Get(key string) (string, bool) {
	m := *s.snapshot.Load()
	v, ok := m[key]
	return v, ok
}

// Remove deletes a user key. Reserved keys cannot be removed.
func (s *Store) Remove(key string) error {
	if _, reserved := reservedKeys[key]; reserved {
		return ErrReservedKey
	}
	return s.update(func(m map[string]string) { delete(m, key) })
}

// ClearSession removes the session key. Only the tracer lifecycle calls
// this; user code goes through Remove, which protects reserved keys.
func (s *Store) ClearSession() error {
	return s.update(func(m map[string]string) { delete(m, KeySessionID) })
}

// Snapshot returns a copy of the full baggage map, tags included.
func (s *Store) Snapshot() map[string]string {
	m := *s.snapshot.Load()
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Tags returns the user tag map with the namespace prefix stripped.
func (s *Store) Tags() map[string]string {
	m := *s.snapshot.Load()
	out := map[string]string{}
	for k, v := range m {
		if strings.HasPrefix(k, TagPrefix) {
			out[strings.TrimPrefix(k, TagPrefix)] = v
		}
	}
	return out
}

func (s *Store) update(mutate func(map[string]string)) error {
	if err := s.mu.Lock(s.timeout); err != nil {
		return err
	}
	defer s.mu.Unlock()
	old := *s.snapshot.Load()
	next := make(map[string]string, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	mutate(next)
	s.snapshot.Store(&next)
	return nil
}

// Inject serializes the baggage onto a carrier as a W3C-style header:
// "k1=v1,k2=v2" with percent-encoded values.
func (s *Store) Inject(carrier propagation.TextMapCarrier) {
	m := *s.snapshot.Load()
	if len(m) == 0 {
		return
	}
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+url.QueryEscape(v))
	}
	// Stable order keeps the header deterministic for tests and dedup.
	sort.Strings(pairs)
	carrier.Set(HeaderKey, strings.Join(pairs, ","))
}

// Extract parses a carrier's baggage header into the store, overwriting
// keys present in the header and leaving others untouched.
func (s *Store) Extract(carrier propagation.TextMapCarrier) error {
	header := carrier.Get(HeaderKey)
	if header == "" {
		return nil
	}
	parsed := ParseHeader(header)
	if len(parsed) == 0 {
		return nil
	}
	return s.update(func(m map[string]string) {
		for k, v := range parsed {
			m[k] = v
		}
	})
}

// ParseHeader decodes a "k1=v1,k2=v2" baggage header.
func ParseHeader(header string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(header, ",") {
		key, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			continue
		}
		value, err := url.QueryUnescape(raw)
		if err != nil {
			value = raw
		}
		out[key] = value
	}
	return out
}

// ContextWith attaches the store's snapshot to ctx as OpenTelemetry
// baggage so it flows with spans created under ctx.
func (s *Store) ContextWith(ctx context.Context) context.Context {
	m := *s.snapshot.Load()
	if len(m) == 0 {
		return ctx
	}
	members := make([]otelbaggage.Member, 0, len(m))
	for k, v := range m {
		member, err := otelbaggage.NewMemberRaw(k, v)
		if err != nil {
			continue
		}
		members = append(members, member)
	}
	bag, err := otelbaggage.New(members...)
	if err != nil {
		return ctx
	}
	return otelbaggage.ContextWithBaggage(ctx, bag)
}

// FromContext reads OpenTelemetry baggage from ctx as a flat map.
func FromContext(ctx context.Context) map[string]string {
	bag := otelbaggage.FromContext(ctx)
	if bag.Len() == 0 {
		return nil
	}
	out := make(map[string]string, bag.Len())
	for _, member := range bag.Members() {
		out[member.Key()] = member.Value()
	}
	return out
}
