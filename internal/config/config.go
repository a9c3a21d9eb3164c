// Package config resolves tracer configuration from three layered sources:
// explicit options (highest precedence), HH_-prefixed environment variables,
// and built-in defaults.
//
// Resolution happens exactly once per tracer instance. The environment is
// read through a snapshot function at resolve time and never consulted
// again, so a tracer's behavior cannot drift when the host mutates its
// environment mid-flight.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultServerURL is the canonical HoneyHive ingestion endpoint.
const DefaultServerURL = "https://api.honeyhive.ai"

// Defaults applied when neither options nor environment provide a value.
const (
	DefaultSource        = "dev"
	DefaultBatchSize     = 512
	DefaultFlushInterval = 5 * time.Second
	DefaultCacheMaxSize  = 1000
	DefaultCacheTTL      = 5 * time.Minute
)

// Clamping bounds for numeric settings. Out-of-range values are clamped
// with a warning rather than rejected.
const (
	minBatchSize     = 1
	maxBatchSize     = 10000
	minFlushInterval = 100 * time.Millisecond
	maxFlushInterval = 5 * time.Minute
	minCacheMaxSize  = 16
	maxCacheMaxSize  = 100000
)

// Error is a fatal configuration error: a missing required field or an
// unparseable value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("honeyhive config: %s: %s", e.Field, e.Reason)
}

// Options are the explicit constructor arguments. Zero values mean "not
// provided"; boolean flags are named so that the zero value is the default
// (a set flag always overrides the environment).
type Options struct {
	APIKey      string
	Project     string
	Source      string
	ServerURL   string
	SessionName string
	SessionID   string

	Verbose            bool
	TestMode           bool
	DisableBatch       bool
	DisableHTTPTracing bool
	DisableOTLP        bool
	DisableCache       bool

	BatchSize     int
	FlushInterval time.Duration
	CacheMaxSize  int
	CacheTTL      time.Duration

	// OTLPProtocol selects the OTLP transport: "http" (default) or "grpc".
	OTLPProtocol string
}

// Config is the immutable per-instance configuration bundle. It is owned
// exclusively by one tracer instance and never mutated after resolution.
type Config struct {
	APIKey      string
	Project     string
	Source      string
	ServerURL   string
	SessionName string
	SessionID   string

	Verbose            bool
	TestMode           bool
	DisableBatch       bool
	DisableHTTPTracing bool
	OTLPEnabled        bool
	OTLPProtocol       string

	CacheEnabled bool
	CacheMaxSize int
	CacheTTL     time.Duration

	BatchSize     int
	FlushInterval time.Duration
}

// Getenv is the environment snapshot used during resolution.
type Getenv func(string) string

// Resolve merges options, environment, and defaults into a Config.
// Warnings report clamped values; the error is non-nil only for fatal
// problems (missing api key outside test mode, unparseable values).
func Resolve(opts Options, getenv Getenv) (*Config, []string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var warnings []string

	cfg := &Config{
		APIKey:      firstNonEmpty(opts.APIKey, getenv("HH_API_KEY")),
		Project:     firstNonEmpty(opts.Project, getenv("HH_PROJECT")),
		Source:      firstNonEmpty(opts.Source, getenv("HH_SOURCE"), DefaultSource),
		ServerURL:   firstNonEmpty(opts.ServerURL, getenv("HH_API_URL"), DefaultServerURL),
		SessionName: opts.SessionName,
		SessionID:   opts.SessionID,
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	var err error
	if cfg.TestMode, err = resolveBool(opts.TestMode, getenv, "HH_TEST_MODE", false); err != nil {
		return nil, nil, err
	}
	if cfg.Verbose, err = resolveBool(opts.Verbose, getenv, "HH_VERBOSE", false); err != nil {
		return nil, nil, err
	}
	if cfg.DisableBatch, err = resolveBool(opts.DisableBatch, getenv, "HH_DISABLE_BATCH", false); err != nil {
		return nil, nil, err
	}
	if cfg.DisableHTTPTracing, err = resolveBool(opts.DisableHTTPTracing, getenv, "HH_DISABLE_HTTP_TRACING", false); err != nil {
		return nil, nil, err
	}

	otlpEnabled, err := resolveBool(false, getenv, "HH_OTLP_ENABLED", true)
	if err != nil {
		return nil, nil, err
	}
	cfg.OTLPEnabled = otlpEnabled && !opts.DisableOTLP

	cacheEnabled, err := resolveBool(false, getenv, "HH_CACHE_ENABLED", true)
	if err != nil {
		return nil, nil, err
	}
	cfg.CacheEnabled = cacheEnabled && !opts.DisableCache

	cfg.OTLPProtocol = strings.ToLower(firstNonEmpty(opts.OTLPProtocol, getenv("HH_OTLP_PROTOCOL"), "http"))
	switch cfg.OTLPProtocol {
	case "http", "grpc":
	default:
		return nil, nil, &Error{Field: "HH_OTLP_PROTOCOL", Reason: fmt.Sprintf("unsupported protocol %q", cfg.OTLPProtocol)}
	}

	if cfg.BatchSize, err = resolveInt(opts.BatchSize, getenv, "HH_BATCH_SIZE", DefaultBatchSize); err != nil {
		return nil, nil, err
	}
	cfg.BatchSize, warnings = clampInt(cfg.BatchSize, minBatchSize, maxBatchSize, "batch_size", warnings)

	if cfg.CacheMaxSize, err = resolveInt(opts.CacheMaxSize, getenv, "HH_CACHE_MAX_SIZE", DefaultCacheMaxSize); err != nil {
		return nil, nil, err
	}
	cfg.CacheMaxSize, warnings = clampInt(cfg.CacheMaxSize, minCacheMaxSize, maxCacheMaxSize, "cache_max_size", warnings)

	if cfg.FlushInterval, err = resolveSeconds(opts.FlushInterval, getenv, "HH_FLUSH_INTERVAL", DefaultFlushInterval); err != nil {
		return nil, nil, err
	}
	cfg.FlushInterval, warnings = clampDuration(cfg.FlushInterval, minFlushInterval, maxFlushInterval, "flush_interval", warnings)

	if cfg.CacheTTL, err = resolveSeconds(opts.CacheTTL, getenv, "HH_CACHE_TTL", DefaultCacheTTL); err != nil {
		return nil, nil, err
	}

	if cfg.SessionID != "" {
		if _, err := uuid.Parse(cfg.SessionID); err != nil {
			return nil, nil, &Error{Field: "session_id", Reason: "must be a valid UUID"}
		}
	}
	if cfg.SessionName == "" {
		cfg.SessionName = inferSessionName()
	}

	// Network transports need credentials; test mode runs fully offline.
	if !cfg.TestMode {
		if cfg.APIKey == "" {
			return nil, nil, &Error{Field: "api_key", Reason: "required (set HH_API_KEY or pass APIKey)"}
		}
		if cfg.Project == "" {
			return nil, nil, &Error{Field: "project", Reason: "required (set HH_PROJECT or pass Project)"}
		}
	}

	return cfg, warnings, nil
}

// inferSessionName derives a session name from the invoking binary,
// falling back to a UUID when that fails.
func inferSessionName() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		base := filepath.Base(os.Args[0])
		base = strings.TrimSuffix(base, filepath.Ext(base))
		if base != "" && base != "." && base != string(filepath.Separator) {
			return base
		}
	}
	return uuid.NewString()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// resolveBool layers an explicit flag over the environment. An explicitly
// set flag (true) wins outright; otherwise the env var is parsed strictly.
func resolveBool(explicit bool, getenv Getenv, envKey string, def bool) (bool, error) {
	if explicit {
		return true, nil
	}
	raw := strings.TrimSpace(getenv(envKey))
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, &Error{Field: envKey, Reason: fmt.Sprintf("not a boolean: %q", raw)}
}

func resolveInt(explicit int, getenv Getenv, envKey string, def int) (int, error) {
	if explicit != 0 {
		return explicit, nil
	}
	raw := strings.TrimSpace(getenv(envKey))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &Error{Field: envKey, Reason: fmt.Sprintf("not an integer: %q", raw)}
	}
	return n, nil
}

// resolveSeconds parses an env var expressed in (possibly fractional)
// seconds.
func resolveSeconds(explicit time.Duration, getenv Getenv, envKey string, def time.Duration) (time.Duration, error) {
	if explicit != 0 {
		return explicit, nil
	}
	raw := strings.TrimSpace(getenv(envKey))
	if raw == "" {
		return def, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &Error{Field: envKey, Reason: fmt.Sprintf("not a number of seconds: %q", raw)}
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func clampInt(v, lo, hi int, name string, warnings []string) (int, []string) {
	if v < lo {
		return lo, append(warnings, fmt.Sprintf("%s %d below minimum, clamped to %d", name, v, lo))
	}
	if v > hi {
		return hi, append(warnings, fmt.Sprintf("%s %d above maximum, clamped to %d", name, v, hi))
	}
	return v, warnings
}

func clampDuration(v, lo, hi time.Duration, name string, warnings []string) (time.Duration, []string) {
	if v < lo {
		return lo, append(warnings, fmt.Sprintf("%s %s below minimum, clamped to %s", name, v, lo))
	}
	if v > hi {
		return hi, append(warnings, fmt.Sprintf("%s %s above maximum, clamped to %s", name, v, hi))
	}
	return v, warnings
}
