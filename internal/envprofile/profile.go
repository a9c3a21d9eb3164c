// Package envprofile probes the runtime environment and selects timeout and
// connection-pool profiles for the tracing pipeline.
//
// The probe runs once at tracer initialization. Serverless platforms get
// aggressive timeouts because the process may be frozen or reaped at any
// moment; container orchestrators get more generous ones; an explicit
// high-concurrency flag trades lock fairness for latency.
package envprofile

import (
	"strings"
	"time"
)

// Kind identifies the detected deployment environment.
type Kind string

const (
	// KindServerless covers FaaS platforms (Lambda, Cloud Functions,
	// Cloud Run, Azure Functions, Vercel).
	KindServerless Kind = "serverless"

	// KindContainer covers orchestrated container platforms (Kubernetes, ECS).
	KindContainer Kind = "container"

	// KindHighConcurrency is selected by the HH_HIGH_CONCURRENCY flag.
	KindHighConcurrency Kind = "high_concurrency"

	// KindStandard is everything else.
	KindStandard Kind = "standard"
)

// Profile holds the per-environment tuning applied to locks, flushes,
// exports, and the transport connection pool.
type Profile struct {
	Kind Kind

	// LifecycleTimeout bounds acquisition of the instance lock during
	// init and shutdown.
	LifecycleTimeout time.Duration

	// FlushTimeout bounds acquisition of the flush lock and the default
	// wait for a drain to complete.
	FlushTimeout time.Duration

	// ExportTimeout bounds a single OTLP or events-API call.
	ExportTimeout time.Duration

	// MaxIdleConns sizes the transport connection pool.
	MaxIdleConns int

	// RetryMax is the number of transport retries after the first attempt.
	RetryMax int

	// RetryBaseDelay is the initial backoff delay between retries.
	RetryBaseDelay time.Duration
}

// Getenv is the environment lookup used by Detect. It matches the signature
// of os.Getenv so tests can substitute a snapshot.
type Getenv func(string) string

// serverlessMarkers are env vars whose presence indicates a FaaS runtime.
var serverlessMarkers = []string{
	"AWS_LAMBDA_FUNCTION_NAME",
	"FUNCTIONS_WORKER_RUNTIME",
	"FUNCTION_TARGET",
	"K_SERVICE",
	"VERCEL",
}

// containerMarkers are env vars whose presence indicates an orchestrated
// container platform.
var containerMarkers = []string{
	"KUBERNETES_SERVICE_HOST",
	"ECS_CONTAINER_METADATA_URI",
	"ECS_CONTAINER_METADATA_URI_V4",
}

// Detect probes the environment snapshot and returns the matching profile.
// Precedence: high-concurrency flag, then serverless markers, then container
// markers, then standard.
func Detect(getenv Getenv) Profile {
	if getenv == nil {
		return standardProfile()
	}
	if isTruthy(getenv("HH_HIGH_CONCURRENCY")) {
		return Profile{
			Kind:             KindHighConcurrency,
			LifecycleTimeout: 300 * time.Millisecond,
			FlushTimeout:     1 * time.Second,
			ExportTimeout:    30 * time.Second,
			MaxIdleConns:     50,
			RetryMax:         2,
			RetryBaseDelay:   50 * time.Millisecond,
		}
	}
	for _, marker := range serverlessMarkers {
		if getenv(marker) != "" {
			return Profile{
				Kind:             KindServerless,
				LifecycleTimeout: 500 * time.Millisecond,
				FlushTimeout:     2 * time.Second,
				ExportTimeout:    5 * time.Second,
				MaxIdleConns:     12,
				RetryMax:         2,
				RetryBaseDelay:   100 * time.Millisecond,
			}
		}
	}
	for _, marker := range containerMarkers {
		if getenv(marker) != "" {
			return Profile{
				Kind:             KindContainer,
				LifecycleTimeout: 2 * time.Second,
				FlushTimeout:     5 * time.Second,
				ExportTimeout:    30 * time.Second,
				MaxIdleConns:     25,
				RetryMax:         3,
				RetryBaseDelay:   100 * time.Millisecond,
			}
		}
	}
	return standardProfile()
}

func standardProfile() Profile {
	return Profile{
		Kind:             KindStandard,
		LifecycleTimeout: 1 * time.Second,
		FlushTimeout:     3 * time.Second,
		ExportTimeout:    30 * time.Second,
		MaxIdleConns:     20,
		RetryMax:         3,
		RetryBaseDelay:   100 * time.Millisecond,
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
