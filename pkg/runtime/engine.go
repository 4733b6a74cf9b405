package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"

	"github.com/ormasoftchile/agentflow/pkg/checkpoint"
	"github.com/ormasoftchile/agentflow/pkg/schema"
)

// maxRedirects bounds on_fail jumps per run so two steps redirecting to
// each other cannot loop forever.
const maxRedirects = 5

// Engine executes a flow plan against a RunContext.
type Engine struct {
	rc      *RunContext
	markers schema.Markers
	// groupOf maps a step id to the id of the unit that settles it: itself
	// for solo steps, the group key for parallel members.
	groupOf       map[string]string
	redirectsUsed int
}

// unit is one scheduling slot: a solo step or a whole parallel group folded
// to the position of its first member.
type unit struct {
	group string // empty for solo units
	steps []schema.Step
}

func (u unit) label() string {
	if u.group != "" {
		return "group " + u.group
	}
	return u.steps[0].ID
}

// NewEngine builds an engine over a prepared RunContext.
func NewEngine(rc *RunContext) *Engine {
	e := &Engine{
		rc:      rc,
		markers: rc.Flow.Markers.Resolved(),
		groupOf: map[string]string{},
	}
	for _, s := range rc.Flow.Steps {
		if s.ParallelGroup != "" {
			e.groupOf[s.ID] = s.ParallelGroup
		} else {
			e.groupOf[s.ID] = s.ID
		}
	}
	return e
}

// units folds the plan into scheduling slots in file order. A parallel
// group occupies the position of its first member; later members add to
// that slot instead of creating new ones.
func (e *Engine) units() []unit {
	var out []unit
	slot := map[string]int{}
	for _, s := range e.rc.Flow.Steps {
		if s.ParallelGroup == "" {
			out = append(out, unit{steps: []schema.Step{s}})
			continue
		}
		if i, ok := slot[s.ParallelGroup]; ok {
			out[i].steps = append(out[i].steps, s)
			continue
		}
		slot[s.ParallelGroup] = len(out)
		out = append(out, unit{group: s.ParallelGroup, steps: []schema.Step{s}})
	}
	return out
}

// Run executes the plan. A nil error with a cancelled or paused Outcome is
// a graceful early exit: progress is checkpointed and the process should
// exit zero.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	if err := e.rc.Checkpoint.SetStatus(checkpoint.StatusInProgress); err != nil {
		return Outcome{}, err
	}
	if cur := e.rc.Checkpoint.CurrentStep(); cur != "" {
		e.rc.Timeline.Warn("previous run was interrupted during step %s; it will run again", cur)
		if err := e.rc.Checkpoint.ClearCurrent(); err != nil {
			return Outcome{}, err
		}
	}

	units := e.units()
	for i := 0; i < len(units); i++ {
		u := units[i]

		if e.cancelRequested() {
			e.rc.Timeline.Info("cancel sentinel found, stopping before %s", u.label())
			if err := e.rc.Checkpoint.SetStatus(checkpoint.StatusCancelled); err != nil {
				return Outcome{}, err
			}
			return Outcome{Status: OutcomeCancelled}, nil
		}

		if e.settled(u) {
			for _, s := range u.steps {
				if e.rc.Checkpoint.IsComplete(s.ID) {
					e.rc.Timeline.StepSkip(s.ID, "already completed")
				}
			}
			continue
		}

		if err := e.checkDeps(u); err != nil {
			return Outcome{}, err
		}

		err := e.runUnit(ctx, u)
		if err == nil {
			continue
		}

		var blocked *blockedError
		if errors.As(err, &blocked) {
			reason := blocked.reason
			if reason == "" {
				reason = "model reported blocked without a reason"
			}
			e.rc.Timeline.StepFail(blocked.stepID, "blocked: "+reason)
			if serr := e.rc.Checkpoint.SetStatus(checkpoint.StatusPaused); serr != nil {
				return Outcome{}, serr
			}
			return Outcome{Status: OutcomePaused, Reason: reason}, nil
		}

		var failed *stepError
		if errors.As(err, &failed) {
			if next, ok := e.redirect(units, failed.stepID); ok {
				e.rc.Timeline.Warn("step %s failed, redirecting to %s", failed.stepID, units[next].label())
				i = next - 1
				continue
			}
		}
		if serr := e.rc.Checkpoint.SetStatus(checkpoint.StatusInterrupted); serr != nil {
			e.rc.Timeline.Warn("record interrupted status: %v", serr)
		}
		return Outcome{}, err
	}

	if err := e.rc.Checkpoint.SetStatus(checkpoint.StatusCompleted); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: OutcomeCompleted}, nil
}

// redirect resolves an on_fail target to its unit index. Each redirect
// consumes budget; exhausting it makes the failure terminal.
func (e *Engine) redirect(units []unit, stepID string) (int, bool) {
	step := e.rc.Flow.StepByID(stepID)
	if step == nil || step.OnFail == "" {
		return 0, false
	}
	if e.redirectsUsed >= maxRedirects {
		e.rc.Timeline.Warn("redirect budget (%d) exhausted at step %s", maxRedirects, stepID)
		return 0, false
	}
	target := e.groupOf[step.OnFail]
	for i, u := range units {
		id := u.group
		if id == "" {
			id = u.steps[0].ID
		}
		if id == target {
			e.redirectsUsed++
			return i, true
		}
	}
	return 0, false
}

// settled reports whether every member of the unit is completed or skipped.
func (e *Engine) settled(u unit) bool {
	for _, s := range u.steps {
		if !e.rc.Checkpoint.IsSettled(s.ID) {
			return false
		}
	}
	return true
}

// checkDeps verifies every dependency of every member is settled. A
// dependency on a parallel member resolves to that member's whole group.
func (e *Engine) checkDeps(u unit) error {
	var missing []string
	for _, s := range u.steps {
		for _, dep := range s.DependsOn {
			owner := e.groupOf[dep]
			if owner == s.ParallelGroup && owner != "" {
				continue // sibling in the same group
			}
			if !e.depSettled(dep) {
				missing = append(missing, dep)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%s: unmet dependencies: %s", u.label(), strings.Join(dedup(missing), ", "))
}

// depSettled resolves a dependency id to its owning unit: depending on one
// member of a group means the whole group must be settled. An id the plan
// never declares is never settled.
func (e *Engine) depSettled(dep string) bool {
	owner, ok := e.groupOf[dep]
	if !ok {
		return false
	}
	if owner == dep {
		return e.rc.Checkpoint.IsSettled(dep)
	}
	for _, m := range e.rc.Flow.GroupMembers(owner) {
		if !e.rc.Checkpoint.IsSettled(m.ID) {
			return false
		}
	}
	return true
}

// runUnit executes one slot: predicate filtering, then a solo run or a
// parallel fan-out.
func (e *Engine) runUnit(ctx context.Context, u unit) error {
	var runnable []schema.Step
	for _, s := range u.steps {
		// A group re-entered on resume fans out only its unsettled members.
		if e.rc.Checkpoint.IsComplete(s.ID) {
			e.rc.Timeline.StepSkip(s.ID, "already completed")
			continue
		}
		if e.rc.Checkpoint.IsSkipped(s.ID) {
			continue
		}
		skip, err := e.shouldSkip(s)
		if err != nil {
			return err
		}
		if skip {
			e.rc.Timeline.StepSkip(s.ID, "when predicate is false")
			if err := e.rc.Checkpoint.MarkSkipped(s.ID); err != nil {
				return err
			}
			continue
		}
		runnable = append(runnable, s)
	}
	if len(runnable) == 0 {
		return nil
	}

	if u.group == "" || len(runnable) == 1 {
		return e.runSolo(ctx, runnable[0])
	}
	return e.runGroup(ctx, u.group, runnable)
}

func (e *Engine) runSolo(ctx context.Context, s schema.Step) error {
	if err := e.rc.Checkpoint.SetCurrent(s.ID); err != nil {
		return err
	}
	e.rc.Timeline.StepStart(s.ID, s.Title)
	start := time.Now()

	if err := e.executeStep(ctx, s); err != nil {
		var serr *stepError
		if errors.As(err, &serr) {
			e.rc.Timeline.StepFail(s.ID, serr.msg)
		}
		if cerr := e.rc.Checkpoint.ClearCurrent(); cerr != nil {
			return cerr
		}
		return err
	}

	e.rc.Timeline.StepDone(s.ID, time.Since(start).Round(time.Second).String())
	if err := e.rc.Checkpoint.MarkComplete(s.ID); err != nil {
		return err
	}
	return e.rc.Checkpoint.ClearCurrent()
}

// runGroup fans the members out on goroutines and fans in. Members run to
// completion even when a sibling fails: results are only judged after the
// whole group finishes, and successful members are checkpointed so a resume
// re-runs only the failures.
func (e *Engine) runGroup(ctx context.Context, group string, members []schema.Step) error {
	if err := e.rc.Checkpoint.SetCurrent("group:" + group); err != nil {
		return err
	}
	e.rc.Timeline.GroupStart(group, len(members))

	type memberResult struct {
		step schema.Step
		err  error
	}
	results := make([]memberResult, len(members))
	var wg sync.WaitGroup
	for i, s := range members {
		wg.Add(1)
		go func(i int, s schema.Step) {
			defer wg.Done()
			e.rc.Timeline.StepStart(s.ID, s.Title)
			results[i] = memberResult{step: s, err: e.executeStep(ctx, s)}
		}(i, s)
	}
	wg.Wait()

	var firstErr error
	for _, r := range results {
		if r.err == nil {
			e.rc.Timeline.StepDone(r.step.ID, "")
			if err := e.rc.Checkpoint.MarkComplete(r.step.ID); err != nil {
				return err
			}
			continue
		}
		var serr *stepError
		if errors.As(r.err, &serr) {
			e.rc.Timeline.StepFail(r.step.ID, serr.msg)
		} else {
			e.rc.Timeline.StepFail(r.step.ID, r.err.Error())
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	if cerr := e.rc.Checkpoint.ClearCurrent(); cerr != nil {
		return cerr
	}
	if firstErr != nil {
		return fmt.Errorf("group %s: %w", group, firstErr)
	}
	return nil
}

// shouldSkip evaluates the step's when predicate over a fresh config
// snapshot. An empty predicate never skips.
func (e *Engine) shouldSkip(s schema.Step) (bool, error) {
	cond := strings.TrimSpace(s.When)
	if cond == "" {
		return false, nil
	}
	env, err := e.rc.snapshotVars()
	if err != nil {
		return false, err
	}
	program, err := expr.Compile(cond, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("step %s: compile when %q: %w", s.ID, cond, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("step %s: eval when %q: %w", s.ID, cond, err)
	}
	keep, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("step %s: when %q did not return bool", s.ID, cond)
	}
	return !keep, nil
}

// cancelRequested checks the sentinel file between units only; an in-flight
// step is never interrupted by the sentinel.
func (e *Engine) cancelRequested() bool {
	name := e.rc.Flow.CancelFile
	if name == "" {
		name = schema.DefaultCancelFile
	}
	_, err := os.Stat(filepath.Join(e.rc.ProjectDir, name))
	return err == nil
}

func dedup(sorted []string) []string {
	var out []string
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
