package mapping

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// TransformFunc is an externally registered custom transform, addressed by
// name from a "custom:<name>" rule.
type TransformFunc func(value interface{}) (interface{}, error)

var (
	customMu         sync.RWMutex
	customTransforms = map[string]TransformFunc{}
)

// RegisterTransform registers a custom transform under a name. Mapping
// configs reference it as "custom:<name>".
func RegisterTransform(name string, fn TransformFunc) {
	customMu.Lock()
	defer customMu.Unlock()
	customTransforms[name] = fn
}

func lookupTransform(name string) (TransformFunc, bool) {
	customMu.RLock()
	defer customMu.RUnlock()
	fn, ok := customTransforms[name]
	return fn, ok
}

// Step is one compiled field transform in a plan. Apply is pure: the same
// source fields always produce the same result.
type Step struct {
	SourceID string
	TargetID string
	Rule     string // rule kind: copy, map-value, concat, date-format, custom

	valueMap   map[string]string // map-value table; "*" is the fallback key
	template   []templatePart    // concat template
	srcLayout  string            // date-format source layout
	dstLayout  string            // date-format target layout
	customName string
	customFn   TransformFunc
}

type templatePart struct {
	literal string
	fieldID string // set when the part is a {field} reference
}

// Apply runs the step against one artifact's source fields and returns the
// target value, or a FieldError for a deterministic per-field failure.
func (s *Step) Apply(artifactID string, fields map[string]interface{}) (interface{}, *FieldError) {
	value := fields[s.SourceID]

	switch s.Rule {
	case "copy":
		return value, nil

	case "map-value":
		key := toString(value)
		if mapped, ok := s.valueMap[key]; ok {
			return mapped, nil
		}
		if fallback, ok := s.valueMap["*"]; ok {
			return fallback, nil
		}
		return nil, s.fieldError(artifactID, value, "no mapping table entry for value")

	case "concat":
		var b strings.Builder
		for _, part := range s.template {
			if part.fieldID == "" {
				b.WriteString(part.literal)
				continue
			}
			b.WriteString(toString(fields[part.fieldID]))
		}
		return b.String(), nil

	case "date-format":
		str := toString(value)
		if str == "" {
			return nil, s.fieldError(artifactID, value, "empty date value")
		}
		t, err := time.Parse(s.srcLayout, str)
		if err != nil {
			return nil, s.fieldError(artifactID, value, "date does not match layout %s", s.srcLayout)
		}
		return t.Format(s.dstLayout), nil

	case "custom":
		out, err := s.customFn(value)
		if err != nil {
			return nil, s.fieldError(artifactID, value, "custom transform %s: %v", s.customName, err)
		}
		return out, nil
	}

	return nil, s.fieldError(artifactID, value, "unknown rule %s", s.Rule)
}

func (s *Step) fieldError(artifactID string, value interface{}, format string, args ...interface{}) *FieldError {
	return &FieldError{
		ArtifactID: artifactID,
		SourceID:   s.SourceID,
		TargetID:   s.TargetID,
		Value:      value,
		Message:    fmt.Sprintf(format, args...),
	}
}

// outputDomain returns the set of values a map-value step can produce, for
// static allowedValues checking. ok is false for rules whose output domain is
// not statically known.
func (s *Step) outputDomain() (values []string, ok bool) {
	if s.Rule != "map-value" {
		return nil, false
	}
	for _, v := range s.valueMap {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, true
}

var templateRef = regexp.MustCompile(`\{([^{}]+)\}`)

// compileStep parses a transformation spec into an executable step. An empty
// spec is a direct copy. Errors here are reported as validation issues by the
// resolver, never deferred to runtime.
func compileStep(fm FieldMapping) (*Step, error) {
	step := &Step{SourceID: fm.SourceID, TargetID: fm.TargetID}

	spec := strings.TrimSpace(fm.Transformation)
	if spec == "" {
		step.Rule = "copy"
		return step, nil
	}

	name, arg, _ := strings.Cut(spec, ":")
	switch name {
	case "map-value":
		step.Rule = "map-value"
		step.valueMap = make(map[string]string)
		if arg == "" {
			return nil, fmt.Errorf("map-value needs at least one from→to pair")
		}
		for _, pair := range strings.Split(arg, ",") {
			from, to, found := strings.Cut(pair, "→")
			if !found {
				from, to, found = strings.Cut(pair, "->")
			}
			if !found {
				return nil, fmt.Errorf("bad map-value pair %q, expected from→to", pair)
			}
			step.valueMap[strings.TrimSpace(from)] = strings.TrimSpace(to)
		}
		return step, nil

	case "concat":
		step.Rule = "concat"
		if arg == "" {
			return nil, fmt.Errorf("concat needs a template")
		}
		step.template = parseTemplate(arg)
		return step, nil

	case "date-format":
		step.Rule = "date-format"
		src, dst, found := strings.Cut(arg, "→")
		if !found {
			src, dst, found = strings.Cut(arg, "->")
		}
		if !found || src == "" || dst == "" {
			return nil, fmt.Errorf("date-format needs source→target layouts")
		}
		step.srcLayout = strings.TrimSpace(src)
		step.dstLayout = strings.TrimSpace(dst)
		return step, nil

	case "custom":
		if arg == "" {
			return nil, fmt.Errorf("custom needs a registered transform name")
		}
		fn, ok := lookupTransform(arg)
		if !ok {
			return nil, fmt.Errorf("no custom transform registered as %q", arg)
		}
		step.Rule = "custom"
		step.customName = arg
		step.customFn = fn
		return step, nil
	}

	return nil, fmt.Errorf("unknown transformation %q", name)
}

// parseTemplate splits a concat template into literal and {field} parts.
func parseTemplate(tmpl string) []templatePart {
	var parts []templatePart
	last := 0
	for _, loc := range templateRef.FindAllStringSubmatchIndex(tmpl, -1) {
		if loc[0] > last {
			parts = append(parts, templatePart{literal: tmpl[last:loc[0]]})
		}
		parts = append(parts, templatePart{fieldID: tmpl[loc[2]:loc[3]]})
		last = loc[1]
	}
	if last < len(tmpl) {
		parts = append(parts, templatePart{literal: tmpl[last:]})
	}
	return parts
}

// templateFields returns the field IDs a concat template references.
func (s *Step) templateFields() []string {
	var ids []string
	for _, part := range s.template {
		if part.fieldID != "" {
			ids = append(ids, part.fieldID)
		}
	}
	return ids
}

func toString(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%g", v)
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
