// Package inject assembles the prompt for a step: instruction template plus
// the contents of its input bindings, with placeholder substitution.
package inject

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ormasoftchile/agentflow/pkg/schema"
)

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][\w.-]*)\}\}`)

// Resolver builds step prompts from a project directory.
type Resolver struct {
	ProjectDir string
	// Warn is invoked for missing literal inputs and unreadable glob
	// matches. Never nil after NewResolver.
	Warn func(format string, args ...interface{})
}

// NewResolver returns a resolver rooted at projectDir.
func NewResolver(projectDir string, warn func(string, ...interface{})) *Resolver {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}
	return &Resolver{ProjectDir: projectDir, Warn: warn}
}

// Resolve produces the full prompt for a step: the template file's content,
// followed by each input binding's content, with {{name}} placeholders
// substituted from vars. Missing inputs degrade to warnings; a missing
// template is fatal because the step has no instructions without it.
func (r *Resolver) Resolve(step schema.Step, vars map[string]interface{}) (string, error) {
	tpl, err := os.ReadFile(filepath.Join(r.ProjectDir, step.Template))
	if err != nil {
		return "", fmt.Errorf("read template for step %s: %w", step.ID, err)
	}

	var b strings.Builder
	b.Write(tpl)

	for _, binding := range step.Inputs {
		if isGlob(binding) {
			r.appendGlob(&b, binding)
			continue
		}
		path := filepath.Join(r.ProjectDir, binding)
		data, err := os.ReadFile(path)
		if err != nil {
			r.Warn("input %s for step %s not found, omitting", binding, step.ID)
			continue
		}
		writeSection(&b, binding, data)
	}

	return substitute(b.String(), vars), nil
}

// appendGlob expands a doublestar pattern and concatenates every match in
// lexicographic order so prompts are deterministic across runs.
func (r *Resolver) appendGlob(b *strings.Builder, pattern string) {
	matches, err := doublestar.Glob(os.DirFS(r.ProjectDir), pattern)
	if err != nil {
		r.Warn("bad input glob %q: %v", pattern, err)
		return
	}
	sort.Strings(matches)
	for _, rel := range matches {
		data, err := os.ReadFile(filepath.Join(r.ProjectDir, rel))
		if err != nil {
			r.Warn("glob match %s unreadable, omitting: %v", rel, err)
			continue
		}
		writeSection(b, rel, data)
	}
}

func writeSection(b *strings.Builder, rel string, data []byte) {
	fmt.Fprintf(b, "\n\n--- %s ---\n", filepath.ToSlash(rel))
	b.Write(data)
}

// substitute replaces {{name}} placeholders with values from vars. Unknown
// placeholders are left verbatim so template authors see exactly what did
// not resolve.
func substitute(text string, vars map[string]interface{}) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return m
	})
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
