package mapping

import (
	"sort"

	"github.com/casebridge/casebridge/internal/provider"
)

// Plan is a compiled, validated transform plan for one artifact type. Plans
// are produced by Resolve and are immutable afterwards.
type Plan struct {
	Steps    []*Step
	Defaults map[string]interface{}

	// allowed holds target-field allowed value sets enforced at apply time
	// for rules whose output domain is not statically known.
	allowed map[string][]string
}

// Resolve validates a mapping config against the source and target schemas
// and compiles it into an executable plan. Resolve is pure: identical inputs
// yield an identical plan or an identical ValidationError. It never touches
// the network.
func Resolve(cfg *Config, sourceSchema, targetSchema []provider.Field) (*Plan, error) {
	verr := &ValidationError{}

	sourceByID := make(map[string]provider.Field, len(sourceSchema))
	for _, f := range sourceSchema {
		sourceByID[f.ID] = f
	}
	targetByID := make(map[string]provider.Field, len(targetSchema))
	for _, f := range targetSchema {
		targetByID[f.ID] = f
	}

	plan := &Plan{
		Defaults: make(map[string]interface{}),
		allowed:  make(map[string][]string),
	}

	seenTargets := make(map[string]bool)
	for _, fm := range cfg.FieldMappings {
		if _, ok := sourceByID[fm.SourceID]; !ok && fm.SourceID != "" {
			verr.add(ReasonUnknownSourceField, fm.SourceID,
				"source field not present in source schema")
		}
		target, targetKnown := targetByID[fm.TargetID]
		if !targetKnown {
			verr.add(ReasonUnknownTargetField, fm.TargetID,
				"target field not present in target schema")
		}
		if seenTargets[fm.TargetID] {
			verr.add(ReasonDuplicateTarget, fm.TargetID,
				"target field mapped more than once")
		}
		seenTargets[fm.TargetID] = true

		step, err := compileStep(fm)
		if err != nil {
			reason := ReasonBadTransformSpec
			name, arg, _ := cutRuleName(fm.Transformation)
			if !knownRule(name) {
				reason = ReasonUnknownTransformation
			} else if name == "custom" && arg != "" {
				if _, registered := lookupTransform(arg); !registered {
					reason = ReasonUnknownTransformation
				}
			}
			verr.add(reason, fm.TargetID, "%v", err)
			continue
		}

		// Concat references source fields beyond SourceID.
		for _, ref := range step.templateFields() {
			if _, ok := sourceByID[ref]; !ok {
				verr.add(ReasonUnknownSourceField, ref,
					"concat template references unknown source field")
			}
		}

		if targetKnown && len(target.AllowedValues) > 0 {
			if domain, static := step.outputDomain(); static {
				// Static check: every producible value must be allowed.
				for _, v := range domain {
					if !containsString(target.AllowedValues, v) {
						verr.add(ReasonValueNotAllowed, fm.TargetID,
							"transformation can produce %q which is not an allowed value", v)
					}
				}
			} else {
				// Deferred to runtime.
				plan.allowed[fm.TargetID] = target.AllowedValues
			}
		}

		plan.Steps = append(plan.Steps, step)
	}

	defaultTargets := make([]string, 0, len(cfg.DefaultValues))
	for targetID := range cfg.DefaultValues {
		defaultTargets = append(defaultTargets, targetID)
	}
	sort.Strings(defaultTargets)
	for _, targetID := range defaultTargets {
		value := cfg.DefaultValues[targetID]
		target, ok := targetByID[targetID]
		if !ok {
			verr.add(ReasonUnknownTargetField, targetID,
				"default value set for field not present in target schema")
			continue
		}
		if len(target.AllowedValues) > 0 && !containsString(target.AllowedValues, toString(value)) {
			verr.add(ReasonValueNotAllowed, targetID,
				"default value %v is not an allowed value", value)
		}
		plan.Defaults[targetID] = value
	}

	// Every required target field must be covered by a mapping or a default.
	for _, f := range targetSchema {
		if !f.Required {
			continue
		}
		if seenTargets[f.ID] {
			continue
		}
		if _, ok := cfg.DefaultValues[f.ID]; ok {
			continue
		}
		verr.add(ReasonMissingRequired, f.ID,
			"required target field has no mapping and no default value")
	}

	if len(verr.Issues) > 0 {
		return nil, verr
	}
	return plan, nil
}

// Apply transforms one artifact's source fields into target fields. Field
// failures are collected per field; the remaining fields still transform.
func (p *Plan) Apply(artifactID string, source map[string]interface{}) (map[string]interface{}, []*FieldError) {
	target := make(map[string]interface{}, len(p.Steps)+len(p.Defaults))
	var fieldErrs []*FieldError

	for _, step := range p.Steps {
		value, ferr := step.Apply(artifactID, source)
		if ferr != nil {
			fieldErrs = append(fieldErrs, ferr)
			continue
		}

		if allowed, ok := p.allowed[step.TargetID]; ok {
			if !containsString(allowed, toString(value)) {
				fieldErrs = append(fieldErrs, &FieldError{
					ArtifactID: artifactID,
					SourceID:   step.SourceID,
					TargetID:   step.TargetID,
					Value:      value,
					Message:    "transformed value is not allowed on target field",
				})
				continue
			}
		}

		target[step.TargetID] = value
	}

	// Defaults fill target fields no mapping produced.
	for targetID, value := range p.Defaults {
		if _, set := target[targetID]; !set {
			target[targetID] = value
		}
	}

	return target, fieldErrs
}

func cutRuleName(spec string) (name, arg string, found bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], spec[i+1:], true
		}
	}
	return spec, "", false
}

func knownRule(name string) bool {
	switch name {
	case "", "map-value", "concat", "date-format", "custom":
		return true
	}
	return false
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
