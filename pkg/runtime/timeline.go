package runtime

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	styleStart = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFail  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleSkip  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// Timeline logs run progress to the console with lipgloss styling and
// mirrors every line, ANSI-stripped, to timeline.log in the project dir.
// Safe for concurrent use by parallel group members.
type Timeline struct {
	mu      sync.Mutex
	console io.Writer
	file    *os.File
}

// NewTimeline opens (appending) the timeline.log mirror. A nil console
// writer defaults to stdout.
func NewTimeline(console io.Writer, logPath string) (*Timeline, error) {
	if console == nil {
		console = os.Stdout
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open timeline log: %w", err)
	}
	return &Timeline{console: console, file: f}, nil
}

// Close closes the file mirror.
func (t *Timeline) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}

func (t *Timeline) emit(styled string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.console, styled)
	if t.file != nil {
		fmt.Fprintln(t.file, ansiRe.ReplaceAllString(styled, ""))
	}
}

// StepStart logs the beginning of a step. Every transition names the exact
// step id so log lines are greppable.
func (t *Timeline) StepStart(stepID, title string) {
	if title != "" {
		t.emit(styleStart.Render(fmt.Sprintf("▶ %s  %s", stepID, title)))
		return
	}
	t.emit(styleStart.Render("▶ " + stepID))
}

// StepDone logs successful completion.
func (t *Timeline) StepDone(stepID string, detail string) {
	line := "✓ " + stepID
	if detail != "" {
		line += "  " + detail
	}
	t.emit(styleOK.Render(line))
}

// StepFail logs a failure with its reason.
func (t *Timeline) StepFail(stepID, reason string) {
	t.emit(styleFail.Render(fmt.Sprintf("✗ %s  %s", stepID, reason)))
}

// StepSkip logs a predicate or resume skip.
func (t *Timeline) StepSkip(stepID, reason string) {
	t.emit(styleSkip.Render(fmt.Sprintf("⊘ %s  %s", stepID, reason)))
}

// GroupStart logs the fan-out of a parallel group.
func (t *Timeline) GroupStart(group string, n int) {
	t.emit(styleStart.Render(fmt.Sprintf("‖ %s  %d steps in parallel", group, n)))
}

// Warn logs a non-fatal condition.
func (t *Timeline) Warn(format string, args ...interface{}) {
	t.emit(styleWarn.Render("⚠ " + fmt.Sprintf(format, args...)))
}

// Info logs an unstyled informational line.
func (t *Timeline) Info(format string, args ...interface{}) {
	t.emit(fmt.Sprintf(format, args...))
}
