package safelog

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// failingWriter simulates a closed stream.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("stream closed") }

// panickyWriter simulates a handler whose sink panics at teardown.
type panickyWriter struct{}

func (panickyWriter) Write([]byte) (int, error) { panic("closed file") }

func TestLogger(t *testing.T) {
	t.Run("writes records with tracer id", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(Options{InstanceID: "abc123", Verbose: true, Output: &buf})
		l.Debug("resolved config", "project", "demo")
		got := buf.String()
		if !strings.Contains(got, "resolved config") || !strings.Contains(got, "abc123") {
			t.Fatalf("unexpected record: %q", got)
		}
	})

	t.Run("level follows verbose flag", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(Options{InstanceID: "id", Verbose: false, Output: &buf})
		l.Debug("hidden")
		l.Info("also hidden")
		l.Warn("visible")
		got := buf.String()
		if strings.Contains(got, "hidden") {
			t.Errorf("debug/info leaked below warn level: %q", got)
		}
		if !strings.Contains(got, "visible") {
			t.Errorf("warn record missing: %q", got)
		}

		l.SetVerbose(true)
		l.Debug("now shown")
		if !strings.Contains(buf.String(), "now shown") {
			t.Error("SetVerbose(true) did not lower the level")
		}
	})

	t.Run("never panics on a failing stream", func(t *testing.T) {
		l := New(Options{InstanceID: "id", Verbose: true, Output: failingWriter{}, Fallback: failingWriter{}})
		l.Error("boom", "err", errors.New("x"))
	})

	t.Run("degrades to fallback on panicking stream", func(t *testing.T) {
		var fallback bytes.Buffer
		l := New(Options{InstanceID: "id", Verbose: true, Output: panickyWriter{}, Fallback: &fallback})
		l.Error("late shutdown")
		// The guarded writer absorbs the panic before the handler sees it,
		// so the record is dropped, not raised.
	})

	t.Run("nil logger does not panic", func(t *testing.T) {
		var l *Logger
		l.Warn("ignored")
		l.SetVerbose(true)
	})

	t.Run("redacts api keys", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(Options{InstanceID: "id", Verbose: true, Output: &buf})
		l.Warn("auth failed", "key", "hh_live_abcdefgh1234")
		got := buf.String()
		if strings.Contains(got, "hh_live_abcdefgh1234") {
			t.Fatalf("api key leaked: %q", got)
		}
		if !strings.Contains(got, "[REDACTED]") {
			t.Fatalf("expected redaction marker: %q", got)
		}
	})
}
