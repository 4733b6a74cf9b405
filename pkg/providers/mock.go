package providers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBackend returns canned responses after a short fixed delay. Used by
// --mock runs and tests that need an end-to-end pass without a model.
type MockBackend struct {
	// Response is returned for every request unless Responses has an entry
	// for the step id.
	Response  string
	Responses map[string]string
	Delay     time.Duration
}

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	delay := b.Delay
	if delay == 0 {
		delay = 10 * time.Millisecond
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return failure(ctx.Err().Error(), time.Since(start))
	}
	out := b.Response
	if r, ok := b.Responses[req.StepID]; ok {
		out = r
	}
	if out == "" {
		out = fmt.Sprintf("mock output for step %s\n===COMPLETE===\n", req.StepID)
	}
	return Result{OK: true, Output: out, Elapsed: time.Since(start)}
}

// DryRunBackend records every prompt it would have sent and succeeds
// without calling anything. The recorded requests let validate/plan
// tooling show exactly what a real run would do.
type DryRunBackend struct {
	mu       sync.Mutex
	requests []Request
}

func (b *DryRunBackend) Name() string { return "dry-run" }

func (b *DryRunBackend) Execute(_ context.Context, req Request) Result {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	return Result{
		OK:     true,
		Output: fmt.Sprintf("[dry-run] step %s would send %d prompt bytes\n===COMPLETE===\n", req.StepID, len(req.Prompt)),
	}
}

// Requests returns the recorded requests in invocation order.
func (b *DryRunBackend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}
