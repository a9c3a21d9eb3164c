// Package dsl implements the declarative translation layer that maps
// provider-specific span attributes onto the canonical four-section event
// schema (inputs, outputs, config, metadata).
//
// Provider behavior lives in a compiled bundle of detection signatures,
// navigation rules, field mappings, and named transforms, not in code.
// Adding a provider means adding rules to the bundle, not a code path.
// The bundle is compiled once from its YAML source, validated against a
// JSON schema, and shared read-only across tracer instances.
package dsl

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed bundle.yaml
var embeddedBundle []byte

//go:embed bundle_schema.json
var bundleSchema []byte

// Extraction methods understood by the engine.
const (
	MethodDirectCopy          = "direct_copy"
	MethodArrayReconstruction = "array_reconstruction"
	MethodStringExtraction    = "string_extraction"
	MethodNumericCalculation  = "numeric_calculation"
)

// Transform types understood by the engine.
const (
	TransformStringJoin = "string_join"
	TransformNumeric    = "numeric"
	TransformJSONDecode = "json_decode"
)

// Canonical sections, in mapping-table order.
const (
	SectionInputs   = "inputs"
	SectionOutputs  = "outputs"
	SectionConfig   = "config"
	SectionMetadata = "metadata"
)

// rawBundle mirrors the YAML source before compilation.
type rawBundle struct {
	Version             string                  `yaml:"version" json:"version"`
	ConfidenceThreshold float64                 `yaml:"confidence_threshold" json:"confidence_threshold"`
	EventTypes          map[string][]string     `yaml:"event_types" json:"event_types"`
	Transforms          map[string]rawTransform `yaml:"transforms" json:"transforms"`
	Providers           map[string]rawProvider  `yaml:"providers" json:"providers"`
}

type rawTransform struct {
	Type      string `yaml:"type" json:"type"`
	Separator string `yaml:"separator" json:"separator,omitempty"`
	Operation string `yaml:"operation" json:"operation,omitempty"`
}

type rawProvider struct {
	Signature rawSignature            `yaml:"signature" json:"signature"`
	Rules     map[string]rawRule      `yaml:"rules" json:"rules"`
	Mappings  map[string][]rawMapping `yaml:"mappings" json:"mappings"`
}

type rawSignature struct {
	Fields           []string `yaml:"fields" json:"fields"`
	ModelAttribute   string   `yaml:"model_attribute" json:"model_attribute,omitempty"`
	ModelPatterns    []string `yaml:"model_patterns" json:"model_patterns,omitempty"`
	ConfidenceWeight float64  `yaml:"confidence_weight" json:"confidence_weight"`
}

type rawRule struct {
	Path                string   `yaml:"path" json:"path,omitempty"`
	Method              string   `yaml:"method" json:"method"`
	Fallback            any      `yaml:"fallback" json:"fallback,omitempty"`
	Transform           string   `yaml:"transform" json:"transform,omitempty"`
	PreserveJSONStrings []string `yaml:"preserve_json_strings" json:"preserve_json_strings,omitempty"`
	RoleKey             string   `yaml:"role_key" json:"role_key,omitempty"`
	ContentKey          string   `yaml:"content_key" json:"content_key,omitempty"`
	RoleFilter          string   `yaml:"role_filter" json:"role_filter,omitempty"`
	Fields              []string `yaml:"fields" json:"fields,omitempty"`
	Operation           string   `yaml:"operation" json:"operation,omitempty"`
}

type rawMapping struct {
	Key      string   `yaml:"key" json:"key"`
	Rules    []string `yaml:"rules" json:"rules"`
	Required bool     `yaml:"required" json:"required,omitempty"`
}

// Bundle is the compiled, immutable translation bundle.
type Bundle struct {
	Version             string
	ConfidenceThreshold float64
	EventTypePatterns   map[string][]*regexp.Regexp
	Providers           map[string]*Provider
	providerNames       []string // sorted, for deterministic iteration
}

// Provider is one compiled provider definition.
type Provider struct {
	Name      string
	Signature Signature
	Rules     map[string]*Rule
	// Mappings per canonical section, in declaration order.
	Mappings map[string][]Mapping
}

// Signature drives O(1) provider detection.
type Signature struct {
	Fields           []string
	FieldSet         map[string]struct{}
	ModelAttribute   string
	ModelPatterns    []*regexp.Regexp
	ConfidenceWeight float64
}

// Transform is a compiled named transformation.
type Transform struct {
	Name      string
	Type      string
	Separator string
	Operation string
}

// Rule is a compiled navigation rule.
type Rule struct {
	Name                string
	Path                string
	Method              string
	Fallback            any
	Transform           *Transform
	PreserveJSONStrings map[string]struct{}
	RoleKey             string
	ContentKey          string
	RoleFilter          string
	Fields              []string
	Operation           string
}

// Mapping places one canonical key from one or more rules; the first rule
// producing a non-nil value wins.
type Mapping struct {
	Key      string
	Rules    []string
	Required bool
}

// ProviderNames returns the bundle's provider names in lexicographic
// order. The result is a copy; the bundle itself stays immutable.
func (b *Bundle) ProviderNames() []string {
	names := make([]string, len(b.providerNames))
	copy(names, b.providerNames)
	return names
}

var (
	defaultOnce   sync.Once
	defaultBundle *Bundle
	defaultErr    error
)

// Default returns the shared compiled bundle built from the embedded YAML
// source. The bundle is immutable, so sharing it across tracer instances
// is safe.
func Default() (*Bundle, error) {
	defaultOnce.Do(func() {
		defaultBundle, defaultErr = Compile(embeddedBundle)
	})
	return defaultBundle, defaultErr
}

// Compile parses, validates, and compiles a bundle from YAML source.
func Compile(src []byte) (*Bundle, error) {
	var raw rawBundle
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, fmt.Errorf("dsl: parse bundle: %w", err)
	}
	if err := validateRaw(src); err != nil {
		return nil, err
	}

	b := &Bundle{
		Version:             raw.Version,
		ConfidenceThreshold: raw.ConfidenceThreshold,
		EventTypePatterns:   make(map[string][]*regexp.Regexp, len(raw.EventTypes)),
		Providers:           make(map[string]*Provider, len(raw.Providers)),
	}
	if b.ConfidenceThreshold <= 0 {
		b.ConfidenceThreshold = 0.8
	}

	for eventType, patterns := range raw.EventTypes {
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("dsl: event type pattern %q: %w", p, err)
			}
			b.EventTypePatterns[eventType] = append(b.EventTypePatterns[eventType], re)
		}
	}

	transforms := make(map[string]*Transform, len(raw.Transforms))
	for name, rt := range raw.Transforms {
		switch rt.Type {
		case TransformStringJoin, TransformNumeric, TransformJSONDecode:
		default:
			return nil, fmt.Errorf("dsl: transform %q: unknown type %q", name, rt.Type)
		}
		transforms[name] = &Transform{Name: name, Type: rt.Type, Separator: rt.Separator, Operation: rt.Operation}
	}

	for name, rp := range raw.Providers {
		p, err := compileProvider(name, rp, transforms)
		if err != nil {
			return nil, err
		}
		b.Providers[name] = p
		b.providerNames = append(b.providerNames, name)
	}
	sort.Strings(b.providerNames)
	return b, nil
}

func compileProvider(name string, rp rawProvider, transforms map[string]*Transform) (*Provider, error) {
	p := &Provider{
		Name: name,
		Signature: Signature{
			Fields:           rp.Signature.Fields,
			FieldSet:         make(map[string]struct{}, len(rp.Signature.Fields)),
			ModelAttribute:   rp.Signature.ModelAttribute,
			ConfidenceWeight: rp.Signature.ConfidenceWeight,
		},
		Rules:    make(map[string]*Rule, len(rp.Rules)),
		Mappings: make(map[string][]Mapping, len(rp.Mappings)),
	}
	if len(rp.Signature.Fields) == 0 {
		return nil, fmt.Errorf("dsl: provider %q: empty signature", name)
	}
	if p.Signature.ConfidenceWeight <= 0 {
		p.Signature.ConfidenceWeight = 1.0
	}
	for _, f := range rp.Signature.Fields {
		p.Signature.FieldSet[f] = struct{}{}
	}
	for _, pat := range rp.Signature.ModelPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("dsl: provider %q: model pattern %q: %w", name, pat, err)
		}
		p.Signature.ModelPatterns = append(p.Signature.ModelPatterns, re)
	}

	for ruleName, rr := range rp.Rules {
		rule, err := compileRule(name, ruleName, rr, transforms)
		if err != nil {
			return nil, err
		}
		p.Rules[ruleName] = rule
	}

	for section, mappings := range rp.Mappings {
		switch section {
		case SectionInputs, SectionOutputs, SectionConfig, SectionMetadata:
		default:
			return nil, fmt.Errorf("dsl: provider %q: unknown section %q", name, section)
		}
		for _, rm := range mappings {
			for _, ruleName := range rm.Rules {
				if _, ok := p.Rules[ruleName]; !ok {
					return nil, fmt.Errorf("dsl: provider %q: mapping %s.%s references unknown rule %q", name, section, rm.Key, ruleName)
				}
			}
			p.Mappings[section] = append(p.Mappings[section], Mapping{Key: rm.Key, Rules: rm.Rules, Required: rm.Required})
		}
	}
	return p, nil
}

func compileRule(provider, name string, rr rawRule, transforms map[string]*Transform) (*Rule, error) {
	rule := &Rule{
		Name:       name,
		Path:       rr.Path,
		Method:     rr.Method,
		Fallback:   rr.Fallback,
		RoleKey:    rr.RoleKey,
		ContentKey: rr.ContentKey,
		RoleFilter: rr.RoleFilter,
		Fields:     rr.Fields,
		Operation:  rr.Operation,
	}
	switch rr.Method {
	case MethodDirectCopy, MethodStringExtraction:
		if rr.Path == "" {
			return nil, fmt.Errorf("dsl: provider %q: rule %q: method %s requires a path", provider, name, rr.Method)
		}
	case MethodArrayReconstruction:
		if rr.Path == "" {
			return nil, fmt.Errorf("dsl: provider %q: rule %q: method %s requires a path", provider, name, rr.Method)
		}
		rule.PreserveJSONStrings = make(map[string]struct{}, len(rr.PreserveJSONStrings))
		for _, leaf := range rr.PreserveJSONStrings {
			rule.PreserveJSONStrings[leaf] = struct{}{}
		}
	case MethodNumericCalculation:
		if len(rr.Fields) == 0 {
			return nil, fmt.Errorf("dsl: provider %q: rule %q: numeric_calculation requires fields", provider, name)
		}
	default:
		return nil, fmt.Errorf("dsl: provider %q: rule %q: unknown method %q", provider, name, rr.Method)
	}
	if rule.RoleKey == "" {
		rule.RoleKey = "role"
	}
	if rule.ContentKey == "" {
		rule.ContentKey = "content"
	}
	if rr.Transform != "" {
		t, ok := transforms[rr.Transform]
		if !ok {
			return nil, fmt.Errorf("dsl: provider %q: rule %q: unknown transform %q", provider, name, rr.Transform)
		}
		rule.Transform = t
	}
	return rule, nil
}

// validateRaw checks the YAML source against the embedded JSON schema.
// YAML is converted to JSON first because the schema library validates
// JSON-shaped values.
func validateRaw(src []byte) error {
	var generic any
	if err := yaml.Unmarshal(src, &generic); err != nil {
		return fmt.Errorf("dsl: parse bundle: %w", err)
	}
	jsonBytes, err := json.Marshal(normalizeYAML(generic))
	if err != nil {
		return fmt.Errorf("dsl: normalize bundle: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("bundle_schema.json", bytes.NewReader(bundleSchema)); err != nil {
		return fmt.Errorf("dsl: load bundle schema: %w", err)
	}
	schema, err := compiler.Compile("bundle_schema.json")
	if err != nil {
		return fmt.Errorf("dsl: compile bundle schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return fmt.Errorf("dsl: reparse bundle: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("dsl: bundle schema validation: %w", err)
	}
	return nil
}

// normalizeYAML converts yaml.v3 map[string]any values that may contain
// non-string keys into JSON-compatible shapes.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}

// wildcardPrefix splits a path of the form "prefix.*" or "prefix.*.leaf"
// into its prefix and trailing segments.
func wildcardPrefix(path string) (string, string) {
	idx := strings.Index(path, ".*")
	if idx < 0 {
		return path, ""
	}
	rest := strings.TrimPrefix(path[idx+2:], ".")
	return path[:idx], rest
}
