package honeyhive

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"

	"github.com/honeyhiveai/honeyhive-go/internal/baggage"
	"github.com/honeyhiveai/honeyhive-go/internal/dsl"
	"github.com/honeyhiveai/honeyhive-go/internal/transport"
)

// SessionStart begins (or adopts) the instance session and returns its
// id. A name of "" uses the configured session name. The call is
// idempotent: while a session started this way is active, subsequent
// calls return the same id without side effects.
func (t *Tracer) SessionStart(name string) (string, error) {
	t.mu.Lock()
	if t.shutdownDone {
		t.mu.Unlock()
		return "", fmt.Errorf("honeyhive: tracer is shut down")
	}
	if t.sessionActive && t.sessionExplicit {
		sid := t.sessionID
		t.mu.Unlock()
		return sid, nil
	}
	// Adopt the session seeded at init, or mint a new one after
	// SessionEnd.
	sid := t.sessionID
	if !t.sessionActive {
		sid = uuid.NewString()
		t.sessionID = sid
		t.sessionActive = true
	}
	t.sessionExplicit = true
	t.mu.Unlock()

	if name == "" {
		name = t.cfg.SessionName
	}
	t.seedBaggage(sid)
	t.emitSessionEvent(name, sid)
	return sid, nil
}

// SessionEnd closes the active session. Spans started afterwards carry
// no session until SessionStart runs again.
func (t *Tracer) SessionEnd() {
	t.mu.Lock()
	active := t.sessionActive
	t.sessionActive = false
	t.sessionExplicit = false
	t.sessionID = ""
	t.mu.Unlock()
	if !active {
		return
	}
	if err := t.baggage.ClearSession(); err != nil {
		t.log.Debug("session teardown skipped baggage clear", "error", err)
	}
}

// SessionID returns the active session id, or "" when none is active.
func (t *Tracer) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sessionActive {
		return ""
	}
	return t.sessionID
}

// startSession seeds the implicit init-time session. The seed comes
// from config when the caller provided one.
func (t *Tracer) startSession(name, seed string, emit bool) {
	sid := seed
	if sid == "" {
		sid = uuid.NewString()
	}
	t.mu.Lock()
	t.sessionID = sid
	t.sessionActive = true
	t.mu.Unlock()

	t.seedBaggage(sid)
	if emit {
		t.emitSessionEvent(name, sid)
	}
}

func (t *Tracer) seedBaggage(sid string) {
	for key, value := range map[string]string{
		baggage.KeySessionID: sid,
		baggage.KeyProject:   t.cfg.Project,
		baggage.KeySource:    t.cfg.Source,
	} {
		if err := t.baggage.Set(key, value); err != nil {
			t.log.Debug("baggage write skipped", "key", key, "error", err)
		}
	}
}

// emitSessionEvent records the session boundary as its own event. The
// event id is the session id, so the backend can attach later events
// to it directly.
func (t *Tracer) emitSessionEvent(name, sid string) {
	now := float64(time.Now().UnixNano()) / float64(time.Millisecond)
	t.proc.EmitEvent(&transport.Event{
		Project:   t.cfg.Project,
		Source:    t.cfg.Source,
		EventName: name,
		EventType: dsl.EventTypeSession,
		EventID:   sid,
		SessionID: sid,
		StartTime: now,
		EndTime:   now,
	})
}

// SetBaggage stores a key in the instance baggage. Errors only when the
// baggage write lock times out.
func (t *Tracer) SetBaggage(key, value string) error {
	return t.baggage.Set(key, value)
}

// GetBaggage reads a baggage key.
func (t *Tracer) GetBaggage(key string) (string, bool) {
	return t.baggage.Get(key)
}

// RemoveBaggage deletes a user key. Reserved keys (session_id, project,
// source) are rejected.
func (t *Tracer) RemoveBaggage(key string) error {
	return t.baggage.Remove(key)
}

// SetTag stores a user tag; tags become the event's user_properties.
func (t *Tracer) SetTag(key, value string) error {
	return t.baggage.SetTag(key, value)
}

// Inject serializes the instance baggage onto carrier as a W3C-style
// baggage header for outbound propagation.
func (t *Tracer) Inject(carrier propagation.TextMapCarrier) {
	t.baggage.Inject(carrier)
}

// Extract merges a carrier's baggage header into the instance baggage.
func (t *Tracer) Extract(carrier propagation.TextMapCarrier) error {
	if err := t.baggage.Extract(carrier); err != nil {
		return err
	}
	// An extracted session takes over the instance session.
	if sid, ok := t.baggage.Get(baggage.KeySessionID); ok && sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.sessionActive = true
		t.mu.Unlock()
	}
	return nil
}
