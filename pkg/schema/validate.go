package schema

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[2].depends_on")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// HasErrors reports whether the slice contains any error-severity entries.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidateFile performs the full 3-phase validation pipeline on a plan file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(filePath string) (*Flow, []*ValidationError) {
	var allErrors []*ValidationError

	fl, err := LoadFile(filePath)
	if err != nil {
		allErrors = append(allErrors, &ValidationError{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		})
		return nil, allErrors
	}

	allErrors = append(allErrors, validateSemantic(fl)...)
	allErrors = append(allErrors, ValidateDomain(fl)...)

	if len(allErrors) > 0 {
		return fl, allErrors
	}
	return fl, nil
}

// validateSemantic validates the plan against the generated JSON Schema.
func validateSemantic(fl *Flow) []*ValidationError {
	data, err := json.Marshal(fl)
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("marshal for schema validation: %v", err), Severity: "error"}}
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("generate schema: %v", err), Severity: "error"}}
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("unmarshal schema: %v", err), Severity: "error"}}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("flow-v1.json", schemaDoc); err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("add schema resource: %v", err), Severity: "error"}}
	}
	sch, err := c.Compile("flow-v1.json")
	if err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("compile schema: %v", err), Severity: "error"}}
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []*ValidationError{{Phase: "semantic", Message: fmt.Sprintf("unmarshal document: %v", err), Severity: "error"}}
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{Phase: "semantic", Message: err.Error(), Severity: "error"})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors and warnings; empty means valid.
func ValidateDomain(fl *Flow) []*ValidationError {
	var errs []*ValidationError

	if fl.Version != "flow/v1" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "version",
			Message:  fmt.Sprintf("unrecognized version %q, expected %q", fl.Version, "flow/v1"),
			Severity: "error",
		})
	}

	ids := make(map[string]int)
	for i, s := range fl.Steps {
		loc := fmt.Sprintf("steps[%d]", i)
		if prev, dup := ids[s.ID]; dup {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     loc + ".id",
				Message:  fmt.Sprintf("duplicate step id %q (first declared at steps[%d])", s.ID, prev),
				Severity: "error",
			})
		} else {
			ids[s.ID] = i
		}

		switch s.Kind {
		case KindInteractive, KindGenerative:
			if s.Template == "" {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     loc + ".template",
					Message:  fmt.Sprintf("step %q of kind %q requires a template", s.ID, s.Kind),
					Severity: "error",
				})
			}
			if len(s.Script) > 0 {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     loc + ".script",
					Message:  fmt.Sprintf("step %q of kind %q must not set script", s.ID, s.Kind),
					Severity: "error",
				})
			}
		case KindScript:
			if len(s.Script) == 0 {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     loc + ".script",
					Message:  fmt.Sprintf("script step %q requires a script argv", s.ID),
					Severity: "error",
				})
			}
			if s.OnFail != "" {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     loc + ".on_fail",
					Message:  fmt.Sprintf("script step %q cannot declare on_fail: script failures are always fatal", s.ID),
					Severity: "error",
				})
			}
		default:
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     loc + ".kind",
				Message:  fmt.Sprintf("unknown step kind %q: must be interactive, generative, or script", s.Kind),
				Severity: "error",
			})
		}
	}

	// Reference checks need the full id set, so run them in a second pass.
	for i, s := range fl.Steps {
		loc := fmt.Sprintf("steps[%d]", i)
		for _, dep := range s.DependsOn {
			if _, ok := ids[dep]; !ok {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     loc + ".depends_on",
					Message:  fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep),
					Severity: "error",
				})
			}
			if dep == s.ID {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     loc + ".depends_on",
					Message:  fmt.Sprintf("step %q depends on itself", s.ID),
					Severity: "error",
				})
			}
		}
		if s.OnFail != "" {
			if _, ok := ids[s.OnFail]; !ok {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     loc + ".on_fail",
					Message:  fmt.Sprintf("step %q redirects to unknown step %q", s.ID, s.OnFail),
					Severity: "error",
				})
			}
		}
	}

	errs = append(errs, warnOutputCollisions(fl)...)
	return errs
}

// warnOutputCollisions flags concurrent steps that declare the same output
// path. The engine does not detect collisions at run time (plan authors own
// output disjointness), so surface the hazard while the plan is being edited.
func warnOutputCollisions(fl *Flow) []*ValidationError {
	type owner struct {
		stepID string
		group  string
	}
	var warns []*ValidationError
	seen := make(map[string]owner)
	for _, s := range fl.Steps {
		for _, out := range s.Outputs {
			clean := path.Clean(out)
			prev, ok := seen[clean]
			if !ok {
				seen[clean] = owner{stepID: s.ID, group: s.ParallelGroup}
				continue
			}
			if prev.group != "" && prev.group == s.ParallelGroup {
				warns = append(warns, &ValidationError{
					Phase:    "domain",
					Path:     "steps",
					Message:  fmt.Sprintf("steps %q and %q in parallel group %q both write %q: concurrent writes to a shared path are undefined", prev.stepID, s.ID, s.ParallelGroup, clean),
					Severity: "warning",
				})
			}
		}
	}
	return warns
}
