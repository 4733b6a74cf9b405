// Package checkpoint persists run progress so an interrupted flow resumes
// without re-running completed steps. The checkpoint file is the engine's
// only persistence boundary and stays human-editable JSON: deleting a step
// id from completed_steps is the supported way to force a re-run.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Run status values recorded in the checkpoint.
const (
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
	StatusPaused      = "paused"
	StatusInterrupted = "interrupted"
)

// Checkpoint records which steps of a flow have finished.
type Checkpoint struct {
	Flow           string    `json:"flow"`
	CompletedSteps []string  `json:"completed_steps"`
	SkippedSteps   []string  `json:"skipped_steps,omitempty"`
	CurrentStep    string    `json:"current_step,omitempty"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store reads and writes the checkpoint file for one flow in one project
// directory. Single writer: the engine owns the store for the run's lifetime.
type Store struct {
	path string
	cp   *Checkpoint
}

// Path returns the checkpoint file path for a flow inside a project dir.
func Path(projectDir, flowName string) string {
	return filepath.Join(projectDir, fmt.Sprintf("_checkpoint.%s.json", flowName))
}

// NewStore opens the store, loading an existing checkpoint if present.
// A missing file means a fresh run; a corrupt file is an error so the
// operator decides whether to delete it.
func NewStore(projectDir, flowName string) (*Store, error) {
	s := &Store{path: Path(projectDir, flowName)}
	cp, err := load(s.path)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &Checkpoint{Flow: flowName, Status: StatusInProgress}
	}
	s.cp = cp
	return s, nil
}

// Load reads a checkpoint without opening a writable store. Returns nil
// when no checkpoint exists.
func Load(projectDir, flowName string) (*Checkpoint, error) {
	return load(Path(projectDir, flowName))
}

func load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// Snapshot returns a copy of the in-memory checkpoint.
func (s *Store) Snapshot() Checkpoint {
	cp := *s.cp
	cp.CompletedSteps = append([]string(nil), s.cp.CompletedSteps...)
	cp.SkippedSteps = append([]string(nil), s.cp.SkippedSteps...)
	return cp
}

// IsComplete reports whether the step is recorded as completed.
func (s *Store) IsComplete(stepID string) bool {
	return contains(s.cp.CompletedSteps, stepID)
}

// IsSkipped reports whether the step is recorded as skipped.
func (s *Store) IsSkipped(stepID string) bool {
	return contains(s.cp.SkippedSteps, stepID)
}

// IsSettled reports whether the step is completed or skipped; dependents
// gate on settled, not strictly completed.
func (s *Store) IsSettled(stepID string) bool {
	return s.IsComplete(stepID) || s.IsSkipped(stepID)
}

// CurrentStep returns the step id recorded as in flight, empty when none.
// Non-empty at store open means the previous run died mid-step.
func (s *Store) CurrentStep() string {
	return s.cp.CurrentStep
}

// MarkComplete records a step as completed. Idempotent: re-marking an
// already-completed step changes nothing.
func (s *Store) MarkComplete(stepID string) error {
	if contains(s.cp.CompletedSteps, stepID) {
		return nil
	}
	s.cp.CompletedSteps = append(s.cp.CompletedSteps, stepID)
	return s.write()
}

// MarkSkipped records a step as skipped by its predicate. Idempotent.
func (s *Store) MarkSkipped(stepID string) error {
	if contains(s.cp.SkippedSteps, stepID) {
		return nil
	}
	s.cp.SkippedSteps = append(s.cp.SkippedSteps, stepID)
	return s.write()
}

// SetCurrent records the step about to execute.
func (s *Store) SetCurrent(stepID string) error {
	s.cp.CurrentStep = stepID
	return s.write()
}

// ClearCurrent clears the in-flight marker after a step settles.
func (s *Store) ClearCurrent() error {
	s.cp.CurrentStep = ""
	return s.write()
}

// SetStatus updates the run status.
func (s *Store) SetStatus(status string) error {
	s.cp.Status = status
	return s.write()
}

// write persists atomically: temp file in the same directory, then rename.
// A reader never observes a partially written checkpoint.
func (s *Store) write() error {
	s.cp.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s.cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
