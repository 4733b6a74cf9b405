// Package schema defines the Go struct types for the flow plan YAML schema
// and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Step kinds dispatched by the runtime engine.
const (
	KindInteractive = "interactive"
	KindGenerative  = "generative"
	KindScript      = "script"
)

// Flow is the top-level document defining an orchestrated agent workflow.
type Flow struct {
	Version    string    `yaml:"version"               json:"version"               jsonschema:"required,enum=flow/v1"`
	Name       string    `yaml:"name"                  json:"name"                  jsonschema:"required"`
	Defaults   *Defaults `yaml:"defaults,omitempty"    json:"defaults,omitempty"`
	Markers    *Markers  `yaml:"markers,omitempty"     json:"markers,omitempty"`
	CancelFile string    `yaml:"cancel_file,omitempty" json:"cancel_file,omitempty"`
	ConfigFile string    `yaml:"config_file,omitempty" json:"config_file,omitempty"`
	Steps      []Step    `yaml:"steps"                 json:"steps"                 jsonschema:"required,minItems=1"`
}

// Defaults specifies run-level settings inherited by steps that omit them.
type Defaults struct {
	TimeoutSec int    `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty" jsonschema:"minimum=1"`
	Backend    string `yaml:"backend,omitempty"     json:"backend,omitempty"     jsonschema:"enum=cli,enum=http,enum=mock"`
}

// Markers are the in-band sentinel strings the engine scans for in model
// output. They are configurable per plan because different backends need
// different steering conventions; empty fields fall back to the defaults.
type Markers struct {
	Complete string `yaml:"complete,omitempty" json:"complete,omitempty"`
	Handoff  string `yaml:"handoff,omitempty"  json:"handoff,omitempty"`
	Blocked  string `yaml:"blocked,omitempty"  json:"blocked,omitempty"`
}

// Default marker strings used when the plan does not override them.
const (
	DefaultCompleteMarker = "===COMPLETE==="
	DefaultHandoffMarker  = "===HANDOFF==="
	DefaultBlockedMarker  = "===BLOCKED==="
)

// DefaultCancelFile is the sentinel whose presence in the project directory
// requests graceful cancellation between steps.
const DefaultCancelFile = ".cancel"

// DefaultConfigFile is the key-value configuration file consulted by step
// `when` predicates.
const DefaultConfigFile = "flow.config.yaml"

// Resolved returns the marker set with defaults applied.
func (m *Markers) Resolved() Markers {
	out := Markers{
		Complete: DefaultCompleteMarker,
		Handoff:  DefaultHandoffMarker,
		Blocked:  DefaultBlockedMarker,
	}
	if m == nil {
		return out
	}
	if m.Complete != "" {
		out.Complete = m.Complete
	}
	if m.Handoff != "" {
		out.Handoff = m.Handoff
	}
	if m.Blocked != "" {
		out.Blocked = m.Blocked
	}
	return out
}

// Step is a single unit of orchestrated work.
type Step struct {
	ID            string   `yaml:"id"                       json:"id"             jsonschema:"required"`
	Kind          string   `yaml:"kind"                     json:"kind"           jsonschema:"required,enum=interactive,enum=generative,enum=script"`
	Title         string   `yaml:"title,omitempty"          json:"title,omitempty"`
	Template      string   `yaml:"template,omitempty"       json:"template,omitempty"`
	Script        []string `yaml:"script,omitempty"         json:"script,omitempty"`
	TimeoutSec    int      `yaml:"timeout_sec,omitempty"    json:"timeout_sec,omitempty" jsonschema:"minimum=1"`
	DependsOn     []string `yaml:"depends_on,omitempty"     json:"depends_on,omitempty"`
	ParallelGroup string   `yaml:"parallel_group,omitempty" json:"parallel_group,omitempty"`
	When          string   `yaml:"when,omitempty"           json:"when,omitempty"`
	Inputs        []string `yaml:"inputs,omitempty"         json:"inputs,omitempty"`
	Outputs       []string `yaml:"outputs,omitempty"        json:"outputs,omitempty"`
	OnFail        string   `yaml:"on_fail,omitempty"        json:"on_fail,omitempty"`
	Lookup        bool     `yaml:"lookup,omitempty"         json:"lookup,omitempty"`
}

// Timeout returns the effective timeout for the step, falling back to the
// plan default. Zero means no timeout.
func (f *Flow) Timeout(step Step) int {
	if step.TimeoutSec > 0 {
		return step.TimeoutSec
	}
	if f.Defaults != nil && f.Defaults.TimeoutSec > 0 {
		return f.Defaults.TimeoutSec
	}
	return 0
}

// StepByID returns the step with the given id, or nil.
func (f *Flow) StepByID(id string) *Step {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i]
		}
	}
	return nil
}

// GroupMembers returns all steps sharing the given parallel group key, in
// file order.
func (f *Flow) GroupMembers(group string) []Step {
	var out []Step
	for _, s := range f.Steps {
		if s.ParallelGroup == group && group != "" {
			out = append(out, s)
		}
	}
	return out
}

// LoadFile reads and parses a flow plan YAML file with strict unknown-field
// rejection. Returns the parsed Flow or an error.
func LoadFile(path string) (*Flow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flow plan: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a flow plan from an io.Reader with strict unknown-field rejection.
func Load(r io.Reader) (*Flow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fl Flow
	if err := dec.Decode(&fl); err != nil {
		return nil, fmt.Errorf("decode flow plan: %w", err)
	}
	return &fl, nil
}
