// Package experiments reads the evaluation-harness identifiers an
// external experiment runner exports into the process environment, so
// every span produced during an evaluation run carries the run, dataset,
// and datapoint it belongs to.
package experiments

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// envPrefix marks harness-provided environment variables.
const envPrefix = "HH_EXPERIMENT_"

// attrPrefix namespaces harness identifiers on spans.
const attrPrefix = "honeyhive_experiment_"

// Well-known harness variables.
const (
	EnvRunID       = envPrefix + "RUN_ID"
	EnvDatasetID   = envPrefix + "DATASET_ID"
	EnvDatapointID = envPrefix + "DATAPOINT_ID"
)

// Context holds the harness identifiers active for this process. It is
// captured once at tracer initialization and never re-read, matching the
// config snapshot semantics.
type Context struct {
	RunID       string
	DatasetID   string
	DatapointID string

	// Custom carries any other HH_EXPERIMENT_* variables, keyed by the
	// lowercased suffix.
	Custom map[string]string
}

// FromEnviron scans an os.Environ-style snapshot for harness variables.
func FromEnviron(environ []string) Context {
	var c Context
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) || value == "" {
			continue
		}
		switch key {
		case EnvRunID:
			c.RunID = value
		case EnvDatasetID:
			c.DatasetID = value
		case EnvDatapointID:
			c.DatapointID = value
		default:
			if c.Custom == nil {
				c.Custom = map[string]string{}
			}
			c.Custom[strings.ToLower(strings.TrimPrefix(key, envPrefix))] = value
		}
	}
	return c
}

// Active reports whether the process is running under a harness.
func (c Context) Active() bool {
	return c.RunID != "" || c.DatasetID != "" || c.DatapointID != "" || len(c.Custom) > 0
}

// Attributes renders the harness identifiers as span attributes.
func (c Context) Attributes() []attribute.KeyValue {
	if !c.Active() {
		return nil
	}
	var out []attribute.KeyValue
	if c.RunID != "" {
		out = append(out, attribute.String(attrPrefix+"run_id", c.RunID))
	}
	if c.DatasetID != "" {
		out = append(out, attribute.String(attrPrefix+"dataset_id", c.DatasetID))
	}
	if c.DatapointID != "" {
		out = append(out, attribute.String(attrPrefix+"datapoint_id", c.DatapointID))
	}
	for k, v := range c.Custom {
		out = append(out, attribute.String(attrPrefix+k, v))
	}
	return out
}

// Metadata renders the identifiers for the event metadata section.
func (c Context) Metadata() map[string]any {
	if !c.Active() {
		return nil
	}
	out := map[string]any{}
	if c.RunID != "" {
		out["run_id"] = c.RunID
	}
	if c.DatasetID != "" {
		out["dataset_id"] = c.DatasetID
	}
	if c.DatapointID != "" {
		out["datapoint_id"] = c.DatapointID
	}
	for k, v := range c.Custom {
		out[k] = v
	}
	return out
}
