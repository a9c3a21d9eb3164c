// Package safelog provides per-instance structured logging that can never
// take down the host.
//
// The logger is built on log/slog with two extra guarantees on top of the
// stock handler behavior:
//
//   - a call never panics, no matter what the handler or the underlying
//     stream does (closed stderr during late shutdown included)
//   - when the primary handler fails, the call degrades to a best-effort
//     stderr write, and if that also fails it is swallowed
//
// Each tracer instance owns its own Logger keyed by its tracer ID, so log
// levels and output streams of two instances never interfere.
package safelog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync"
)

// apiKeyPattern redacts HoneyHive API keys from log output.
var apiKeyPattern = regexp.MustCompile(`\bhh_[A-Za-z0-9_\-]{8,}\b`)

// Logger is a panic-absorbing structured logger scoped to one tracer
// instance. The zero value is unusable; construct with New.
type Logger struct {
	mu       sync.Mutex
	logger   *slog.Logger
	level    *slog.LevelVar
	fallback io.Writer
	id       string
}

// Options configures a Logger.
type Options struct {
	// InstanceID names the logger; it appears on every record.
	InstanceID string

	// Verbose selects debug level when true, warn level otherwise.
	Verbose bool

	// Output is the primary log destination. Defaults to os.Stderr.
	Output io.Writer

	// Fallback receives records when the primary handler fails.
	// Defaults to os.Stderr.
	Fallback io.Writer
}

// New creates a Logger for a tracer instance.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = os.Stderr
	}

	level := new(slog.LevelVar)
	if opts.Verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelWarn)
	}

	handler := slog.NewTextHandler(&guardedWriter{w: out}, &slog.HandlerOptions{Level: level})
	return &Logger{
		logger:   slog.New(handler).With("tracer_id", opts.InstanceID),
		level:    level,
		fallback: fallback,
		id:       opts.InstanceID,
	}
}

// SetVerbose adjusts the level after construction.
func (l *Logger) SetVerbose(verbose bool) {
	if l == nil {
		return
	}
	if verbose {
		l.level.Set(slog.LevelDebug)
	} else {
		l.level.Set(slog.LevelWarn)
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// log routes a record through the primary handler, degrading to the fallback
// writer on any panic in the handler chain.
func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.logger == nil {
		if level >= slog.LevelWarn {
			fallbackWrite(os.Stderr, msg)
		}
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.degrade(msg)
		}
	}()
	l.logger.Log(context.Background(), level, Redact(msg), redactArgs(args)...)
}

// degrade writes the message to the fallback stream, swallowing every error.
func (l *Logger) degrade(msg string) {
	defer func() { _ = recover() }()
	l.mu.Lock()
	defer l.mu.Unlock()
	fallbackWrite(l.fallback, "[honeyhive "+l.id+"] "+Redact(msg))
}

func fallbackWrite(w io.Writer, msg string) {
	defer func() { _ = recover() }()
	if w == nil {
		return
	}
	_, _ = fmt.Fprintln(w, msg)
}

// Redact masks API-key material in a string.
func Redact(s string) string {
	return apiKeyPattern.ReplaceAllString(s, "[REDACTED]")
}

func redactArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			out[i] = Redact(v)
		case error:
			if v != nil {
				out[i] = Redact(v.Error())
			} else {
				out[i] = v
			}
		default:
			out[i] = a
		}
	}
	return out
}

// guardedWriter absorbs write errors and panics from the underlying stream.
// A closed stderr at process teardown surfaces here as an error or panic;
// either way the record is dropped.
type guardedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (g *guardedWriter) Write(p []byte) (int, error) {
	defer func() { _ = recover() }()
	g.mu.Lock()
	defer g.mu.Unlock()
	_, _ = g.w.Write(p)
	return len(p), nil
}
