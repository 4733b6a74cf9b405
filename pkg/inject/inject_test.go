package inject

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/agentflow/pkg/schema"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResolveTemplateAndLiteralInput(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"prompts/prd.md": "Write a PRD.",
		"docs/idea.md":   "A widget factory.",
	})
	r := NewResolver(dir, nil)
	step := schema.Step{ID: "prd", Template: "prompts/prd.md", Inputs: []string{"docs/idea.md"}}
	prompt, err := r.Resolve(step, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(prompt, "Write a PRD.") {
		t.Error("template content missing")
	}
	if !strings.Contains(prompt, "--- docs/idea.md ---") {
		t.Errorf("section header missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "A widget factory.") {
		t.Error("input content missing")
	}
}

func TestResolveMissingTemplateIsFatal(t *testing.T) {
	r := NewResolver(t.TempDir(), nil)
	_, err := r.Resolve(schema.Step{ID: "x", Template: "nope.md"}, nil)
	if err == nil {
		t.Fatal("expected error for missing template")
	}
}

// TestResolveMissingInputWarnsAndOmits verifies the degraded path: a missing
// literal input produces a warning, not a failure.
func TestResolveMissingInputWarnsAndOmits(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"t.md": "instructions"})
	var warnings []string
	r := NewResolver(dir, func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	})
	step := schema.Step{ID: "s", Template: "t.md", Inputs: []string{"absent.md"}}
	prompt, err := r.Resolve(step, nil)
	if err != nil {
		t.Fatalf("resolve should not fail: %v", err)
	}
	if strings.Contains(prompt, "absent.md") {
		t.Error("missing input should be omitted from prompt")
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "absent.md") {
		t.Errorf("warnings = %v", warnings)
	}
}

// TestResolveGlobLexicographicOrder pins deterministic glob concatenation.
func TestResolveGlobLexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"t.md":                  "base",
		"docs/epics/billing.md": "billing epic",
		"docs/epics/auth.md":    "auth epic",
		"docs/other.md":         "not matched",
	})
	r := NewResolver(dir, nil)
	step := schema.Step{ID: "s", Template: "t.md", Inputs: []string{"docs/epics/**/*.md"}}
	prompt, err := r.Resolve(step, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	authAt := strings.Index(prompt, "--- docs/epics/auth.md ---")
	billingAt := strings.Index(prompt, "--- docs/epics/billing.md ---")
	if authAt < 0 || billingAt < 0 {
		t.Fatalf("glob sections missing:\n%s", prompt)
	}
	if authAt > billingAt {
		t.Error("glob matches not in lexicographic order")
	}
	if strings.Contains(prompt, "not matched") {
		t.Error("glob matched outside its pattern")
	}
}

func TestResolveEmptyGlobIsQuiet(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"t.md": "base"})
	var warned bool
	r := NewResolver(dir, func(string, ...interface{}) { warned = true })
	step := schema.Step{ID: "s", Template: "t.md", Inputs: []string{"docs/**/*.md"}}
	if _, err := r.Resolve(step, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if warned {
		t.Error("an empty glob is not a warning")
	}
}

func TestPlaceholderSubstitution(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"t.md": "Project {{project_name}} stage {{stage}} unknown {{mystery}}",
	})
	r := NewResolver(dir, nil)
	vars := map[string]interface{}{"project_name": "widgetd", "stage": 2}
	prompt, err := r.Resolve(schema.Step{ID: "s", Template: "t.md"}, vars)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(prompt, "Project widgetd stage 2") {
		t.Errorf("substitution failed: %q", prompt)
	}
	if !strings.Contains(prompt, "{{mystery}}") {
		t.Errorf("unknown placeholder should stay verbatim: %q", prompt)
	}
}

func TestPlaceholdersInInputsSubstituted(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"t.md":    "instructions",
		"idea.md": "target platform: {{platform}}",
	})
	r := NewResolver(dir, nil)
	prompt, err := r.Resolve(
		schema.Step{ID: "s", Template: "t.md", Inputs: []string{"idea.md"}},
		map[string]interface{}{"platform": "linux"},
	)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(prompt, "target platform: linux") {
		t.Errorf("input placeholder not substituted: %q", prompt)
	}
}
