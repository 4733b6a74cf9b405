// Package providers contains the model backend adapters the engine calls to
// execute generative and interactive step turns.
package providers

import (
	"context"
	"time"
)

// Request carries one backend invocation.
type Request struct {
	StepID  string
	Prompt  string
	Timeout time.Duration // zero means no deadline
	Lookup  bool          // capability hint: the step may need external lookups
}

// Result is the outcome of a backend invocation. Execute never returns a Go
// error: every failure mode is encoded here so the engine can distinguish
// "the model failed" from "the runner is broken". Output may be non-empty
// even when OK is false (partial output before a timeout or crash).
type Result struct {
	OK       bool
	Output   string
	Err      string
	TimedOut bool
	Elapsed  time.Duration
}

// Backend executes model requests. Implementations must be safe for
// concurrent use: parallel group members share one backend instance.
type Backend interface {
	// Name identifies the backend in logs and exchange records.
	Name() string
	// Execute runs one request to completion and reports the outcome.
	Execute(ctx context.Context, req Request) Result
}

func failure(err string, elapsed time.Duration) Result {
	return Result{OK: false, Err: err, Elapsed: elapsed}
}
