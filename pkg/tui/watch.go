// Package tui implements the `agentflow watch` terminal UI: a live view of
// a flow's checkpoint progress and its timeline log.
package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/agentflow/pkg/checkpoint"
	"github.com/ormasoftchile/agentflow/pkg/schema"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)

// pollInterval is how often the watcher re-reads the checkpoint and log.
const pollInterval = time.Second

type tickMsg time.Time

// refreshMsg carries the re-read run state.
type refreshMsg struct {
	cp      *checkpoint.Checkpoint
	logTail string
	err     error
}

// Model is the bubbletea model for the watch view.
type Model struct {
	projectDir string
	flow       *schema.Flow

	spinner  spinner.Model
	viewport viewport.Model
	ready    bool
	width    int

	cp      *checkpoint.Checkpoint
	logTail string
	err     error
}

// NewModel creates a watch model for a flow in a project directory.
func NewModel(projectDir string, fl *schema.Flow) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = currentStyle
	return Model{projectDir: projectDir, flow: fl, spinner: sp}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh, tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// refresh re-reads the checkpoint and the timeline log tail.
func (m Model) refresh() tea.Msg {
	cp, err := checkpoint.Load(m.projectDir, m.flow.Name)
	if err != nil {
		return refreshMsg{err: err}
	}
	tail := ""
	if data, err := os.ReadFile(filepath.Join(m.projectDir, "timeline.log")); err == nil {
		tail = tailLines(string(data), 200)
	}
	return refreshMsg{cp: cp, logTail: tail}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		headerHeight := len(m.flow.Steps) + 5
		if !m.ready {
			m.viewport = viewport.New(msg.Width, max(3, msg.Height-headerHeight))
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = max(3, msg.Height-headerHeight)
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh, tick())

	case refreshMsg:
		m.cp = msg.cp
		m.err = msg.err
		if m.logTail != msg.logTail {
			m.logTail = msg.logTail
			m.viewport.SetContent(msg.logTail)
			m.viewport.GotoBottom()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("agentflow watch: %s", m.flow.Name)))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(fmt.Sprintf("error: %v\n", m.err))
		return b.String()
	}

	for _, s := range m.flow.Steps {
		b.WriteString(m.stepLine(s))
		b.WriteString("\n")
	}

	status := "not started"
	if m.cp != nil {
		status = m.cp.Status
	}
	b.WriteString("\n" + statusStyle.Render("status: "+status) + "\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	}
	b.WriteString(skipStyle.Render("\nq to quit"))
	return b.String()
}

// stepLine renders one plan step with its checkpoint state, truncated to
// the terminal width.
func (m Model) stepLine(s schema.Step) string {
	label := s.ID
	if s.Title != "" {
		label += "  " + s.Title
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	label = truncate(label, width-4)

	switch {
	case m.cp != nil && contains(m.cp.CompletedSteps, s.ID):
		return doneStyle.Render("  ✓ " + label)
	case m.cp != nil && contains(m.cp.SkippedSteps, s.ID):
		return skipStyle.Render("  ⊘ " + label)
	case m.cp != nil && (m.cp.CurrentStep == s.ID || m.cp.CurrentStep == "group:"+s.ParallelGroup && s.ParallelGroup != ""):
		return currentStyle.Render("  " + m.spinner.View() + " " + label)
	default:
		return pendingStyle.Render("  · " + label)
	}
}

// truncate cuts a line to the given display width, rune-width aware.
func truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
