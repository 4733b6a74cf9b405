// Package extract pulls structured payloads out of free-form model output.
// All functions are pure: text in, text out, no I/O.
package extract

import (
	"regexp"
	"strings"

	"github.com/ormasoftchile/agentflow/pkg/schema"
)

var (
	yamlFenceRe  = regexp.MustCompile("(?s)```ya?ml\\s*\n(.*?)```")
	markerLineRe = regexp.MustCompile(`^===[A-Z_]+===\s*$`)
	kvLineRe     = regexp.MustCompile(`^[A-Za-z_][\w.-]*\s*:(\s|$)`)
	listLineRe   = regexp.MustCompile(`^\s*-\s+\S`)
)

// YAMLBlock extracts YAML content from model output. A fenced yaml code block
// wins; without one, the fallback collects the first contiguous run of lines
// that look like YAML key/value pairs or list items, stopping at any marker
// line or the first line that matches neither shape.
func YAMLBlock(text string) string {
	if m := yamlFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	var block []string
	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		if markerLineRe.MatchString(strings.TrimSpace(line)) {
			if inBlock {
				break
			}
			continue
		}
		looksYAML := kvLineRe.MatchString(line) || listLineRe.MatchString(line) ||
			(inBlock && indentedContinuation(line))
		if looksYAML {
			inBlock = true
			block = append(block, line)
			continue
		}
		if inBlock {
			break
		}
	}
	return strings.TrimSpace(strings.Join(block, "\n"))
}

// indentedContinuation reports whether a line plausibly continues a YAML
// mapping (indented scalar or nested key under the current block).
func indentedContinuation(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	return strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t")
}

// MarkdownBody returns everything before the completion marker with all
// marker lines stripped, preserving the document body verbatim otherwise.
func MarkdownBody(text string, markers schema.Markers) string {
	if idx := strings.Index(text, markers.Complete); idx >= 0 {
		text = text[:idx]
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == markers.Complete || trimmed == markers.Handoff || trimmed == markers.Blocked {
			continue
		}
		if markerLineRe.MatchString(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")) + "\n"
}

// HasMarker reports whether the text contains the given marker on its own
// line or inline.
func HasMarker(text, marker string) bool {
	return marker != "" && strings.Contains(text, marker)
}
