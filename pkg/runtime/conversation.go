package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"

	"github.com/ormasoftchile/agentflow/pkg/extract"
	"github.com/ormasoftchile/agentflow/pkg/providers"
	"github.com/ormasoftchile/agentflow/pkg/schema"
)

// Prompter reads a human reply during an interactive step.
type Prompter interface {
	// ReadReply shows the prompt and returns the operator's line. io.EOF
	// means the operator closed the session.
	ReadReply(prompt string) (string, error)
}

// ReadlinePrompter reads replies from the terminal with line editing.
type ReadlinePrompter struct{}

func (ReadlinePrompter) ReadReply(prompt string) (string, error) {
	rl, err := readline.New(prompt)
	if err != nil {
		return "", fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()
	line, err := rl.Readline()
	if err == readline.ErrInterrupt {
		return "", io.EOF
	}
	return line, err
}

// conversation runs the interactive loop for one step: backend turn, check
// for the completion marker, render the model text, read a human reply,
// repeat. The step's whole timeout budget spans the conversation; each turn
// gets whatever remains.
type conversation struct {
	rc      *RunContext
	step    schema.Step
	markers schema.Markers
	// transcript accumulates every turn for the run log.
	transcript strings.Builder
}

// run drives the loop and returns the final model output (the turn that
// carried the completion marker) inside the Result.
func (c *conversation) run(ctx context.Context, prompt string, budget time.Duration) providers.Result {
	deadline := time.Time{}
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}

	turnPrompt := prompt
	for turn := 1; ; turn++ {
		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return providers.Result{
					Err:      fmt.Sprintf("step %s conversation exceeded its %s budget", c.step.ID, budget),
					TimedOut: true,
				}
			}
		}

		c.record("## Turn %d: prompt\n\n%s\n", turn, turnPrompt)
		res := c.rc.Backend.Execute(ctx, providers.Request{
			StepID:  c.step.ID,
			Prompt:  turnPrompt,
			Timeout: remaining,
			Lookup:  c.step.Lookup,
		})
		if c.rc.Exchanges != nil {
			if err := c.rc.Exchanges.Record(c.step.ID, turnPrompt, res); err != nil {
				c.rc.Timeline.Warn("record exchange for %s: %v", c.step.ID, err)
			}
		}
		c.record("## Turn %d: model\n\n%s\n", turn, res.Output)
		if !res.OK {
			return res
		}

		if extract.HasMarker(res.Output, c.markers.Complete) ||
			extract.HasMarker(res.Output, c.markers.Handoff) ||
			extract.HasMarker(res.Output, c.markers.Blocked) {
			return res
		}

		c.render(res.Output)
		reply, err := c.rc.Prompter.ReadReply("you> ")
		if err == io.EOF {
			return providers.Result{Err: fmt.Sprintf("step %s: operator ended the session before completion", c.step.ID)}
		}
		if err != nil {
			return providers.Result{Err: fmt.Sprintf("step %s: read reply: %v", c.step.ID, err)}
		}
		c.record("## Turn %d: operator\n\n%s\n", turn, reply)
		// Backends are stateless (fresh process or request per call), so
		// each turn resends the whole conversation so far.
		turnPrompt = turnPrompt + "\n\n" + res.Output + "\n\nOperator: " + reply
	}
}

// render shows the model's turn as formatted markdown, falling back to raw
// text when rendering fails (e.g. no TTY).
func (c *conversation) render(text string) {
	out, err := glamour.Render(text, "auto")
	if err != nil {
		c.rc.Timeline.Info("%s", text)
		return
	}
	c.rc.Timeline.Info("%s", out)
}

func (c *conversation) record(format string, args ...interface{}) {
	fmt.Fprintf(&c.transcript, format, args...)
	c.transcript.WriteString("\n")
}

// persist writes the transcript into the run log directory.
func (c *conversation) persist(logDir string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("transcript-%s.md", c.step.ID))
	if err := os.WriteFile(path, []byte(c.transcript.String()), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
