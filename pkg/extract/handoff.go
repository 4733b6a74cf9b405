package extract

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/agentflow/pkg/schema"
)

// Handoff is the structured status block a model emits after the handoff
// marker. Downstream steps consume NextInput; the engine consumes Status.
type Handoff struct {
	Status       string   `yaml:"status"`
	Summary      string   `yaml:"summary,omitempty"`
	FilesChanged []string `yaml:"files_changed,omitempty"`
	NextInput    string   `yaml:"next_input,omitempty"`
	Blockers     []string `yaml:"blockers,omitempty"`
}

// Blocked reports whether the handoff declares a blocked status.
func (h *Handoff) Blocked() bool {
	return h != nil && strings.EqualFold(h.Status, "blocked")
}

// BlockedReason returns the first blocker, or the summary when the model
// gave no explicit blockers list.
func (h *Handoff) BlockedReason() string {
	if h == nil {
		return ""
	}
	if len(h.Blockers) > 0 {
		return h.Blockers[0]
	}
	return h.Summary
}

// ParseHandoff extracts and parses the handoff region: everything between
// the handoff marker and the next marker line (or EOF), decoded as YAML.
// A missing marker or an unparseable region returns nil; callers tolerate
// absent handoffs and fall back to the raw text.
func ParseHandoff(text string, markers schema.Markers) *Handoff {
	idx := strings.Index(text, markers.Handoff)
	if idx < 0 {
		return nil
	}
	region := text[idx+len(markers.Handoff):]

	var lines []string
	for _, line := range strings.Split(region, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == markers.Complete || trimmed == markers.Blocked || markerLineRe.MatchString(trimmed) {
			break
		}
		lines = append(lines, line)
	}
	region = strings.TrimSpace(strings.Join(lines, "\n"))
	region = stripFence(region)
	if region == "" {
		return nil
	}

	var h Handoff
	if err := yaml.Unmarshal([]byte(region), &h); err != nil {
		return nil
	}
	if h.Status == "" {
		return nil
	}
	return &h
}

// stripFence removes a surrounding ```yaml fence when the model wrapped the
// handoff block in one.
func stripFence(s string) string {
	if m := yamlFenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}
