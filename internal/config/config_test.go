package config

import (
	"errors"
	"testing"
	"time"
)

func env(vars map[string]string) Getenv {
	return func(key string) string { return vars[key] }
}

func TestResolve(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		cfg, warnings, err := Resolve(Options{APIKey: "hh_test", Project: "demo"}, env(nil))
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if len(warnings) != 0 {
			t.Errorf("unexpected warnings: %v", warnings)
		}
		if cfg.Source != "dev" {
			t.Errorf("expected source dev, got %q", cfg.Source)
		}
		if cfg.ServerURL != DefaultServerURL {
			t.Errorf("expected default server url, got %q", cfg.ServerURL)
		}
		if cfg.BatchSize != DefaultBatchSize || cfg.FlushInterval != DefaultFlushInterval {
			t.Errorf("unexpected batch defaults: %d / %v", cfg.BatchSize, cfg.FlushInterval)
		}
		if !cfg.OTLPEnabled || !cfg.CacheEnabled {
			t.Error("otlp and cache should default to enabled")
		}
		if cfg.SessionName == "" {
			t.Error("session name should be inferred")
		}
	})

	t.Run("explicit options beat environment", func(t *testing.T) {
		cfg, _, err := Resolve(
			Options{APIKey: "hh_explicit", Project: "p1", Source: "prod"},
			env(map[string]string{"HH_API_KEY": "hh_env", "HH_PROJECT": "p2", "HH_SOURCE": "staging"}),
		)
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if cfg.APIKey != "hh_explicit" || cfg.Project != "p1" || cfg.Source != "prod" {
			t.Errorf("explicit options lost: %+v", cfg)
		}
	})

	t.Run("environment beats defaults", func(t *testing.T) {
		cfg, _, err := Resolve(Options{}, env(map[string]string{
			"HH_API_KEY":        "hh_env",
			"HH_PROJECT":        "demo",
			"HH_SOURCE":         "prod",
			"HH_BATCH_SIZE":     "64",
			"HH_FLUSH_INTERVAL": "2.5",
			"HH_OTLP_ENABLED":   "false",
		}))
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if cfg.Source != "prod" || cfg.BatchSize != 64 {
			t.Errorf("env values lost: %+v", cfg)
		}
		if cfg.FlushInterval != 2500*time.Millisecond {
			t.Errorf("expected 2.5s flush interval, got %v", cfg.FlushInterval)
		}
		if cfg.OTLPEnabled {
			t.Error("HH_OTLP_ENABLED=false should disable otlp")
		}
	})

	t.Run("missing api key is fatal outside test mode", func(t *testing.T) {
		_, _, err := Resolve(Options{Project: "demo"}, env(nil))
		var cfgErr *Error
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if cfgErr.Field != "api_key" {
			t.Errorf("expected api_key error, got %s", cfgErr.Field)
		}
	})

	t.Run("test mode needs no credentials", func(t *testing.T) {
		cfg, _, err := Resolve(Options{TestMode: true}, env(nil))
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if !cfg.TestMode {
			t.Error("test mode flag lost")
		}
	})

	t.Run("unparseable boolean is fatal", func(t *testing.T) {
		_, _, err := Resolve(Options{APIKey: "hh_k", Project: "p"},
			env(map[string]string{"HH_TEST_MODE": "maybe"}))
		var cfgErr *Error
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if cfgErr.Field != "HH_TEST_MODE" {
			t.Errorf("expected HH_TEST_MODE error, got %s", cfgErr.Field)
		}
	})

	t.Run("unparseable integer is fatal", func(t *testing.T) {
		_, _, err := Resolve(Options{APIKey: "hh_k", Project: "p"},
			env(map[string]string{"HH_BATCH_SIZE": "many"}))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("out of range values clamp with warning", func(t *testing.T) {
		cfg, warnings, err := Resolve(Options{APIKey: "hh_k", Project: "p", BatchSize: 1000000}, env(nil))
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if cfg.BatchSize != maxBatchSize {
			t.Errorf("expected clamp to %d, got %d", maxBatchSize, cfg.BatchSize)
		}
		if len(warnings) != 1 {
			t.Errorf("expected one warning, got %v", warnings)
		}
	})

	t.Run("invalid session id seed is fatal", func(t *testing.T) {
		_, _, err := Resolve(Options{APIKey: "hh_k", Project: "p", SessionID: "not-a-uuid"}, env(nil))
		if err == nil {
			t.Fatal("expected error for invalid session id")
		}
	})

	t.Run("server url trailing slash trimmed", func(t *testing.T) {
		cfg, _, err := Resolve(Options{APIKey: "hh_k", Project: "p", ServerURL: "https://x.example/"}, env(nil))
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if cfg.ServerURL != "https://x.example" {
			t.Errorf("trailing slash not trimmed: %q", cfg.ServerURL)
		}
	})

	t.Run("unsupported otlp protocol is fatal", func(t *testing.T) {
		_, _, err := Resolve(Options{APIKey: "hh_k", Project: "p", OTLPProtocol: "udp"}, env(nil))
		if err == nil {
			t.Fatal("expected error for unsupported protocol")
		}
	})
}
