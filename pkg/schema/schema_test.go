package schema

import (
	"strings"
	"testing"
)

const sampleFlowYAML = `
version: flow/v1
name: idea-to-scaffold
defaults:
  timeout_sec: 600
  backend: cli
markers:
  complete: "===DONE==="
steps:
  - id: interview
    kind: interactive
    template: prompts/interview.md
    outputs: [docs/idea.md]
  - id: prd
    kind: generative
    template: prompts/prd.md
    depends_on: [interview]
    inputs: [docs/idea.md]
    outputs: [docs/prd.md]
  - id: epic_auth
    kind: generative
    template: prompts/epic.md
    parallel_group: epics
    depends_on: [prd]
    outputs: [docs/epics/auth.md]
  - id: epic_billing
    kind: generative
    template: prompts/epic.md
    parallel_group: epics
    depends_on: [prd]
    outputs: [docs/epics/billing.md]
  - id: scaffold
    kind: script
    script: [./scripts/scaffold.sh]
    depends_on: [epic_auth, epic_billing]
`

func TestLoadSampleFlow(t *testing.T) {
	fl, err := Load(strings.NewReader(sampleFlowYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fl.Name != "idea-to-scaffold" {
		t.Errorf("name = %q", fl.Name)
	}
	if len(fl.Steps) != 5 {
		t.Fatalf("steps = %d, want 5", len(fl.Steps))
	}
	if fl.Steps[2].ParallelGroup != "epics" {
		t.Errorf("parallel_group = %q", fl.Steps[2].ParallelGroup)
	}
	if got := fl.Timeout(fl.Steps[0]); got != 600 {
		t.Errorf("default timeout = %d, want 600", got)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	bad := `
version: flow/v1
name: bad
steps:
  - id: s1
    kind: script
    script: [ls]
    retries: 3
`
	if _, err := Load(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestMarkersResolved(t *testing.T) {
	fl, err := Load(strings.NewReader(sampleFlowYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m := fl.Markers.Resolved()
	if m.Complete != "===DONE===" {
		t.Errorf("complete = %q", m.Complete)
	}
	if m.Handoff != DefaultHandoffMarker {
		t.Errorf("handoff = %q, want default", m.Handoff)
	}
	var none *Markers
	m = none.Resolved()
	if m.Complete != DefaultCompleteMarker || m.Blocked != DefaultBlockedMarker {
		t.Errorf("nil markers should resolve to defaults, got %+v", m)
	}
}

func TestStepTimeoutOverride(t *testing.T) {
	fl := &Flow{
		Defaults: &Defaults{TimeoutSec: 300},
		Steps:    []Step{{ID: "s", TimeoutSec: 30}},
	}
	if got := fl.Timeout(fl.Steps[0]); got != 30 {
		t.Errorf("timeout = %d, want step override 30", got)
	}
	fl.Steps[0].TimeoutSec = 0
	if got := fl.Timeout(fl.Steps[0]); got != 300 {
		t.Errorf("timeout = %d, want default 300", got)
	}
}

func TestGroupMembers(t *testing.T) {
	fl, err := Load(strings.NewReader(sampleFlowYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	members := fl.GroupMembers("epics")
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	if members[0].ID != "epic_auth" || members[1].ID != "epic_billing" {
		t.Errorf("group order = %s, %s; want file order", members[0].ID, members[1].ID)
	}
	if got := fl.GroupMembers(""); got != nil {
		t.Errorf("empty group key should return nil, got %v", got)
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, want := range []string{"flow-v1.json", "steps", "parallel_group"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
