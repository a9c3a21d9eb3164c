package dsl

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Translation error kinds.
const (
	KindUnknownProvider      = "unknown_provider"
	KindMissingRequiredField = "missing_required_field"
	KindTransformFailed      = "transform_failed"
)

// TranslationError is a non-fatal translation failure. Callers fall back to
// a pass-through mapping and record the kind as a metric label.
type TranslationError struct {
	Kind   string
	Detail string
}

func (e *TranslationError) Error() string {
	if e.Detail == "" {
		return "dsl: " + e.Kind
	}
	return fmt.Sprintf("dsl: %s: %s", e.Kind, e.Detail)
}

// Event types emitted by detection.
const (
	EventTypeModel   = "model"
	EventTypeChain   = "chain"
	EventTypeTool    = "tool"
	EventTypeSession = "session"
)

// Explicit event-type attributes, checked in priority order.
const (
	AttrEventTypeRaw = "honeyhive_event_type_raw"
	AttrEventType    = "honeyhive.event_type"
)

// Sections are the four canonical sections of an event.
type Sections struct {
	Inputs   map[string]any
	Outputs  map[string]any
	Config   map[string]any
	Metadata map[string]any
}

func newSections() Sections {
	return Sections{
		Inputs:   map[string]any{},
		Outputs:  map[string]any{},
		Config:   map[string]any{},
		Metadata: map[string]any{},
	}
}

// Engine evaluates a compiled bundle against flat attribute bags. It holds
// no mutable state and is safe for concurrent use.
type Engine struct {
	bundle *Bundle
}

// NewEngine wraps a compiled bundle.
func NewEngine(bundle *Bundle) *Engine {
	return &Engine{bundle: bundle}
}

// BundleVersion reports the loaded bundle's version string.
func (e *Engine) BundleVersion() string {
	return e.bundle.Version
}

// DetectProvider scores every provider signature against the attribute key
// set and returns the best match. Detection is deterministic: equal scores
// break ties by lexicographic provider name.
func (e *Engine) DetectProvider(attrs map[string]any) (string, error) {
	bestName := ""
	bestScore := 0.0

	for _, name := range e.bundle.providerNames {
		p := e.bundle.Providers[name]
		sig := p.Signature

		matched := 0
		for field := range sig.FieldSet {
			if _, ok := attrs[field]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(sig.FieldSet)) * sig.ConfidenceWeight

		if len(sig.ModelPatterns) > 0 && sig.ModelAttribute != "" {
			model, _ := attrs[sig.ModelAttribute].(string)
			if !anyPatternMatches(sig.ModelPatterns, model) {
				score = 0
			}
		}

		// Strictly-greater keeps the lexicographically first name on ties
		// because providerNames is sorted.
		if score > bestScore {
			bestScore = score
			bestName = name
		}
	}

	if bestName == "" || bestScore < e.bundle.ConfidenceThreshold {
		return "", &TranslationError{Kind: KindUnknownProvider}
	}
	return bestName, nil
}

// Extract runs every navigation rule of the provider over the attribute
// bag and returns logical field -> value. Missing paths yield the rule's
// fallback (possibly nil).
func (e *Engine) Extract(provider string, attrs map[string]any) (map[string]any, error) {
	p, ok := e.bundle.Providers[provider]
	if !ok {
		return nil, &TranslationError{Kind: KindUnknownProvider, Detail: provider}
	}
	out := make(map[string]any, len(p.Rules))
	for name, rule := range p.Rules {
		v, err := e.applyRule(rule, attrs)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// MapToCanonical places extracted values into the four canonical sections
// per the provider's mapping tables. For each canonical key, the first rule
// producing a non-nil value wins.
func (e *Engine) MapToCanonical(provider string, extracted map[string]any) (Sections, error) {
	p, ok := e.bundle.Providers[provider]
	if !ok {
		return Sections{}, &TranslationError{Kind: KindUnknownProvider, Detail: provider}
	}
	sections := newSections()
	targets := map[string]map[string]any{
		SectionInputs:   sections.Inputs,
		SectionOutputs:  sections.Outputs,
		SectionConfig:   sections.Config,
		SectionMetadata: sections.Metadata,
	}
	for section, mappings := range p.Mappings {
		target := targets[section]
		for _, m := range mappings {
			var value any
			for _, ruleName := range m.Rules {
				if v, ok := extracted[ruleName]; ok && v != nil {
					value = v
					break
				}
			}
			if value == nil {
				if m.Required {
					return Sections{}, &TranslationError{
						Kind:   KindMissingRequiredField,
						Detail: fmt.Sprintf("%s: %s.%s", provider, section, m.Key),
					}
				}
				continue
			}
			target[m.Key] = value
		}
	}
	return sections, nil
}

// Translate is the full detect-extract-map pipeline. A non-empty hint
// skips detection.
func (e *Engine) Translate(attrs map[string]any, hint string) (string, Sections, error) {
	provider := hint
	if provider == "" {
		detected, err := e.DetectProvider(attrs)
		if err != nil {
			return "", Sections{}, err
		}
		provider = detected
	}
	extracted, err := e.Extract(provider, attrs)
	if err != nil {
		return provider, Sections{}, err
	}
	sections, err := e.MapToCanonical(provider, extracted)
	if err != nil {
		return provider, Sections{}, err
	}
	return provider, sections, nil
}

// DetectEventType resolves the canonical event type for a finished span.
// Priority: explicit raw attribute, explicit prefixed attribute, name
// pattern inference, then the tool default. This runs on span end only;
// the attributes that decide the type are set after span start.
func (e *Engine) DetectEventType(spanName string, attrs map[string]any) string {
	if t := validEventType(attrs[AttrEventTypeRaw]); t != "" {
		return t
	}
	if t := validEventType(attrs[AttrEventType]); t != "" {
		return t
	}
	name := strings.ToLower(spanName)
	for _, eventType := range []string{EventTypeModel, EventTypeChain, EventTypeTool} {
		if anyPatternMatches(e.bundle.EventTypePatterns[eventType], name) {
			return eventType
		}
	}
	return EventTypeTool
}

func validEventType(v any) string {
	s, _ := v.(string)
	switch s {
	case EventTypeModel, EventTypeChain, EventTypeTool, EventTypeSession:
		return s
	}
	return ""
}

func (e *Engine) applyRule(rule *Rule, attrs map[string]any) (any, error) {
	switch rule.Method {
	case MethodDirectCopy:
		v, ok := attrs[rule.Path]
		if !ok {
			return rule.Fallback, nil
		}
		return applyScalarTransform(rule, v)

	case MethodArrayReconstruction:
		arr := reconstructArray(rule, attrs)
		if len(arr) == 0 {
			return rule.Fallback, nil
		}
		return arr, nil

	case MethodStringExtraction:
		arr := reconstructArray(rule, attrs)
		var parts []string
		for _, item := range arr {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if rule.RoleFilter != "" {
				role, _ := m[rule.RoleKey].(string)
				if !strings.EqualFold(role, rule.RoleFilter) {
					continue
				}
			}
			if content, ok := m[rule.ContentKey].(string); ok && content != "" {
				parts = append(parts, content)
			}
		}
		if len(parts) == 0 {
			return rule.Fallback, nil
		}
		sep := "\n"
		if rule.Transform != nil && rule.Transform.Type == TransformStringJoin && rule.Transform.Separator != "" {
			sep = rule.Transform.Separator
		}
		return strings.Join(parts, sep), nil

	case MethodNumericCalculation:
		op := rule.Operation
		if rule.Transform != nil && rule.Transform.Type == TransformNumeric && rule.Transform.Operation != "" {
			op = rule.Transform.Operation
		}
		var sum float64
		found := false
		for _, field := range rule.Fields {
			raw, ok := attrs[field]
			if !ok {
				continue
			}
			n, err := toFloat(raw)
			if err != nil {
				return nil, &TranslationError{
					Kind:   KindTransformFailed,
					Detail: fmt.Sprintf("rule %s: field %s: %v", rule.Name, field, err),
				}
			}
			if op == "first" {
				return n, nil
			}
			sum += n
			found = true
		}
		if !found {
			return rule.Fallback, nil
		}
		return sum, nil
	}
	return nil, &TranslationError{Kind: KindTransformFailed, Detail: "unknown method " + rule.Method}
}

// applyScalarTransform handles the json_decode transform on direct copies.
func applyScalarTransform(rule *Rule, v any) (any, error) {
	if rule.Transform == nil || rule.Transform.Type != TransformJSONDecode {
		return v, nil
	}
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		// Not JSON after all; the raw string is still useful.
		return v, nil
	}
	return decoded, nil
}

// reconstructArray rebuilds an array from flattened keys of the form
// "prefix.0.leaf", "prefix.1.leaf". Plain "prefix.0" entries become scalar
// elements. Leaves holding JSON strings are decoded unless listed in the
// rule's preserve_json_strings.
func reconstructArray(rule *Rule, attrs map[string]any) []any {
	prefix, _ := wildcardPrefix(rule.Path)
	prefix += "."

	indexed := map[int]map[string]any{}
	scalars := map[int]any{}
	for key, value := range attrs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		idxStr, leaf, hasLeaf := strings.Cut(rest, ".")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}
		if !hasLeaf {
			scalars[idx] = value
			continue
		}
		if indexed[idx] == nil {
			indexed[idx] = map[string]any{}
		}
		indexed[idx][leaf] = maybeDecodeLeaf(rule, leaf, value)
	}

	if len(indexed) == 0 && len(scalars) == 0 {
		return nil
	}

	var indices []int
	for idx := range indexed {
		indices = append(indices, idx)
	}
	for idx := range scalars {
		if _, ok := indexed[idx]; !ok {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)

	out := make([]any, 0, len(indices))
	for _, idx := range indices {
		if m, ok := indexed[idx]; ok {
			out = append(out, m)
		} else {
			out = append(out, scalars[idx])
		}
	}
	return out
}

func maybeDecodeLeaf(rule *Rule, leaf string, value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if _, preserve := rule.PreserveJSONStrings[leaf]; preserve {
		return s
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return s
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return s
	}
	return decoded
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("not numeric: %T", v)
}

func anyPatternMatches(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
