package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ormasoftchile/agentflow/pkg/extract"
	"github.com/ormasoftchile/agentflow/pkg/providers"
	"github.com/ormasoftchile/agentflow/pkg/schema"
)

// stepError is a step failure the scheduler may redirect via on_fail.
type stepError struct {
	stepID string
	msg    string
}

func (e *stepError) Error() string {
	return fmt.Sprintf("step %s failed: %s", e.stepID, e.msg)
}

// blockedError is a model-reported blocker: a controlled halt, not a crash.
type blockedError struct {
	stepID string
	reason string
}

func (e *blockedError) Error() string {
	return fmt.Sprintf("step %s blocked: %s", e.stepID, e.reason)
}

// executeStep runs one step to completion and writes its outputs. The
// returned error is nil on success, *stepError on a redirectable failure,
// *blockedError on a model-reported blocker, and a plain error on runner
// faults (unreadable template, unwritable output).
func (e *Engine) executeStep(ctx context.Context, step schema.Step) error {
	switch step.Kind {
	case schema.KindScript:
		return e.executeScript(ctx, step)
	case schema.KindGenerative:
		return e.executeGenerative(ctx, step)
	case schema.KindInteractive:
		return e.executeInteractive(ctx, step)
	default:
		return fmt.Errorf("step %s: unknown kind %q", step.ID, step.Kind)
	}
}

// executeScript runs the step argv as a subprocess. Script failures are
// always fatal: scripts are deterministic, so a retry or redirect cannot
// help.
func (e *Engine) executeScript(ctx context.Context, step schema.Step) error {
	if timeout := e.rc.Flow.Timeout(step); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, step.Script[0], step.Script[1:]...)
	cmd.Dir = e.rc.ProjectDir
	cmd.Env = append(os.Environ(),
		"FLOW_PROJECT_DIR="+e.rc.ProjectDir,
		"FLOW_RUN_ID="+e.rc.RunID,
		"FLOW_STEP_ID="+step.ID,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := err.Error()
		if trimmed := strings.TrimSpace(string(out)); trimmed != "" {
			msg += ": " + tailString(trimmed, 2000)
		}
		return fmt.Errorf("script step %s: %s", step.ID, msg)
	}
	return nil
}

func (e *Engine) executeGenerative(ctx context.Context, step schema.Step) error {
	prompt, err := e.resolvePrompt(step)
	if err != nil {
		return err
	}

	res := e.rc.Backend.Execute(ctx, providers.Request{
		StepID:  step.ID,
		Prompt:  prompt,
		Timeout: time.Duration(e.rc.Flow.Timeout(step)) * time.Second,
		Lookup:  step.Lookup,
	})
	if e.rc.Exchanges != nil {
		if err := e.rc.Exchanges.Record(step.ID, prompt, res); err != nil {
			e.rc.Timeline.Warn("record exchange for %s: %v", step.ID, err)
		}
	}
	return e.settle(step, res)
}

func (e *Engine) executeInteractive(ctx context.Context, step schema.Step) error {
	prompt, err := e.resolvePrompt(step)
	if err != nil {
		return err
	}

	conv := &conversation{rc: e.rc, step: step, markers: e.markers}
	res := conv.run(ctx, prompt, time.Duration(e.rc.Flow.Timeout(step))*time.Second)
	if err := conv.persist(e.logDir()); err != nil {
		e.rc.Timeline.Warn("%v", err)
	}
	return e.settle(step, res)
}

// settle converts a backend Result into the step's terminal state: blocked
// handoff, failure, or success with outputs written.
func (e *Engine) settle(step schema.Step, res providers.Result) error {
	if !res.OK {
		msg := res.Err
		if res.TimedOut && msg == "" {
			msg = "timed out"
		}
		return &stepError{stepID: step.ID, msg: msg}
	}

	if h := extract.ParseHandoff(res.Output, e.markers); h.Blocked() {
		return &blockedError{stepID: step.ID, reason: h.BlockedReason()}
	}
	if extract.HasMarker(res.Output, e.markers.Blocked) {
		return &blockedError{stepID: step.ID, reason: firstLineAfter(res.Output, e.markers.Blocked)}
	}

	return e.writeOutputs(step, res.Output)
}

// writeOutputs extracts and writes each declared output by extension:
// .yaml/.yml get the extracted YAML block, .md the markdown body, anything
// else the raw text.
func (e *Engine) writeOutputs(step schema.Step, output string) error {
	for _, rel := range step.Outputs {
		var content string
		switch strings.ToLower(filepath.Ext(rel)) {
		case ".yaml", ".yml":
			content = extract.YAMLBlock(output)
			if content == "" {
				return &stepError{stepID: step.ID, msg: fmt.Sprintf("no YAML payload found for output %s", rel)}
			}
			content += "\n"
		case ".md":
			content = extract.MarkdownBody(output, e.markers)
		default:
			content = output
		}
		path := filepath.Join(e.rc.ProjectDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create output dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write output %s: %w", rel, err)
		}
	}
	return nil
}

func (e *Engine) resolvePrompt(step schema.Step) (string, error) {
	vars, err := e.rc.snapshotVars()
	if err != nil {
		return "", err
	}
	return e.rc.Resolver.Resolve(step, vars)
}

func (e *Engine) logDir() string {
	return filepath.Join(e.rc.ProjectDir, "_runs", e.rc.RunID)
}

func firstLineAfter(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(text[idx+len(marker):])
	if line, _, found := strings.Cut(rest, "\n"); found {
		return strings.TrimSpace(line)
	}
	return rest
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
