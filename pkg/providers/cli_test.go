package providers

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCLIBackendEcho(t *testing.T) {
	dir := t.TempDir()
	b := &CLIBackend{Argv: []string{"cat"}, Dir: dir, LogDir: dir}
	res := b.Execute(context.Background(), Request{StepID: "echo", Prompt: "hello prompt"})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "hello prompt") {
		t.Errorf("output = %q", res.Output)
	}
	if res.TimedOut {
		t.Error("unexpected timeout")
	}
}

func TestCLIBackendNonZeroExitShortOutputFails(t *testing.T) {
	dir := t.TempDir()
	b := &CLIBackend{Argv: []string{"sh", "-c", "echo brief; exit 3"}, Dir: dir, LogDir: dir}
	res := b.Execute(context.Background(), Request{StepID: "fail"})
	if res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	if !strings.Contains(res.Err, "code 3") {
		t.Errorf("err = %q", res.Err)
	}
	if !strings.Contains(res.Output, "brief") {
		t.Errorf("partial output should be preserved: %q", res.Output)
	}
}

// TestCLIBackendNonZeroExitLongOutputSucceeds pins the success heuristic:
// substantial output wins over a non-zero exit code.
func TestCLIBackendNonZeroExitLongOutputSucceeds(t *testing.T) {
	dir := t.TempDir()
	script := "yes x | head -c 500; exit 1"
	b := &CLIBackend{Argv: []string{"sh", "-c", script}, Dir: dir, LogDir: dir}
	res := b.Execute(context.Background(), Request{StepID: "warnexit"})
	if !res.OK {
		t.Fatalf("expected heuristic success, got %+v", res)
	}
	if len(res.Output) < minUsefulOutput {
		t.Errorf("output = %d bytes", len(res.Output))
	}
}

func TestCLIBackendTimeout(t *testing.T) {
	dir := t.TempDir()
	b := &CLIBackend{Argv: []string{"sh", "-c", "echo partial; sleep 30"}, Dir: dir, LogDir: dir}
	start := time.Now()
	res := b.Execute(context.Background(), Request{StepID: "slow", Timeout: 700 * time.Millisecond})
	if res.OK {
		t.Fatalf("expected timeout failure, got %+v", res)
	}
	if !res.TimedOut {
		t.Errorf("TimedOut not set: %+v", res)
	}
	if !strings.Contains(res.Output, "partial") {
		t.Errorf("partial output lost: %q", res.Output)
	}
	// sleep dies on SIGTERM, so the 5s kill grace never elapses.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout handling took %s", elapsed)
	}
}

func TestCLIBackendContextCancel(t *testing.T) {
	dir := t.TempDir()
	b := &CLIBackend{Argv: []string{"sleep", "30"}, Dir: dir, LogDir: dir}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(700 * time.Millisecond)
		cancel()
	}()
	res := b.Execute(ctx, Request{StepID: "cancelled"})
	if res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.TimedOut {
		t.Error("cancellation is not a timeout")
	}
}

func TestCLIBackendMissingBinary(t *testing.T) {
	dir := t.TempDir()
	b := &CLIBackend{Argv: []string{"definitely-not-a-real-binary-xyz"}, Dir: dir, LogDir: dir}
	res := b.Execute(context.Background(), Request{StepID: "missing"})
	if res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Err == "" {
		t.Error("expected error message")
	}
}

func TestCLIBackendLookupArgs(t *testing.T) {
	dir := t.TempDir()
	b := &CLIBackend{
		Argv:       []string{"sh", "-c", `echo "args: $0 $1" -- "$@"`},
		LookupArgs: []string{"--web"},
		Dir:        dir,
		LogDir:     dir,
	}
	res := b.Execute(context.Background(), Request{StepID: "lookup", Lookup: true})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "--web") {
		t.Errorf("lookup args not appended: %q", res.Output)
	}
}
