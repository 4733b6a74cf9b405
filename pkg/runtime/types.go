// Package runtime drives flow execution: scheduling, checkpointing, step
// dispatch, and the interactive conversation loop.
package runtime

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ormasoftchile/agentflow/pkg/checkpoint"
	"github.com/ormasoftchile/agentflow/pkg/config"
	"github.com/ormasoftchile/agentflow/pkg/inject"
	"github.com/ormasoftchile/agentflow/pkg/providers"
	"github.com/ormasoftchile/agentflow/pkg/schema"
)

// NewRunID creates a lexicographically sortable run id.
func NewRunID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RunContext carries everything one run needs. It is built once by the
// caller and passed explicitly; the engine has no global state.
type RunContext struct {
	ProjectDir string
	RunID      string
	Flow       *schema.Flow
	Backend    providers.Backend
	Checkpoint *checkpoint.Store
	Config     *config.Store
	Resolver   *inject.Resolver
	Timeline   *Timeline
	Prompter   Prompter
	Exchanges  *providers.ExchangeLog
	// Vars are --var overrides layered on top of each config snapshot.
	Vars map[string]interface{}
}

// Run statuses reported in the Outcome, mirroring the checkpoint statuses.
const (
	OutcomeCompleted = checkpoint.StatusCompleted
	OutcomeCancelled = checkpoint.StatusCancelled
	OutcomePaused    = checkpoint.StatusPaused
)

// Outcome is the terminal state of a run that did not error. Cancelled and
// paused runs are graceful exits: the checkpoint is preserved and the
// process exits zero.
type Outcome struct {
	Status string
	// Reason is set for paused runs: the blocker the model reported.
	Reason string
}

// StepResult records one executed step for the run summary.
type StepResult struct {
	StepID   string
	OK       bool
	Skipped  bool
	Err      string
	Elapsed  time.Duration
	TimedOut bool
}

// snapshotVars merges a fresh config snapshot with the run's --var
// overrides; overrides win.
func (rc *RunContext) snapshotVars() (map[string]interface{}, error) {
	vars, err := rc.Config.Snapshot()
	if err != nil {
		return nil, err
	}
	for k, v := range rc.Vars {
		vars[k] = v
	}
	return vars, nil
}
