package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	// fastCheckInterval is the first completion check: most mock or cached
	// invocations finish well under it, so the happy path never waits a full
	// progress tick.
	fastCheckInterval = 500 * time.Millisecond
	// progressInterval is how often a long-running invocation reports
	// elapsed time and captured byte counts.
	progressInterval = 10 * time.Second
	// termGrace is how long a timed-out process gets between SIGTERM and
	// SIGKILL to flush its output.
	termGrace = 5 * time.Second
	// minUsefulOutput is the success heuristic floor: some agent CLIs exit
	// non-zero on benign warnings after producing a complete answer, so an
	// output at least this long counts as success regardless of exit code.
	minUsefulOutput = 200
)

// CLIBackend runs a coding-agent CLI as a subprocess: prompt on stdin,
// stdout and stderr captured to per-invocation files under LogDir.
type CLIBackend struct {
	// Argv is the command and fixed arguments, e.g. ["claude", "-p"].
	Argv []string
	// Dir is the working directory for the subprocess.
	Dir string
	// LogDir receives the stdout/stderr capture files.
	LogDir string
	// LookupArgs are appended when the request sets the lookup hint.
	LookupArgs []string
	// Progress, when set, receives periodic progress lines for steps that
	// run long.
	Progress func(format string, args ...interface{})
}

func (b *CLIBackend) Name() string { return "cli" }

// Execute spawns the CLI, writes the prompt to stdin, and polls for
// completion: a fast check at 500ms, then progress reports every 10s. On
// timeout the process group gets SIGTERM, 5s grace, then SIGKILL. Partial
// output captured before the kill is preserved in the Result.
func (b *CLIBackend) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	if len(b.Argv) == 0 {
		return failure("cli backend has no argv configured", 0)
	}

	argv := append([]string{}, b.Argv...)
	if req.Lookup && len(b.LookupArgs) > 0 {
		argv = append(argv, b.LookupArgs...)
	}

	stamp := time.Now().UTC().Format("20060102T150405.000")
	stdoutPath := filepath.Join(b.LogDir, fmt.Sprintf("%s-%s.stdout.log", stamp, req.StepID))
	stderrPath := filepath.Join(b.LogDir, fmt.Sprintf("%s-%s.stderr.log", stamp, req.StepID))
	if err := os.MkdirAll(b.LogDir, 0o755); err != nil {
		return failure(fmt.Sprintf("create log dir: %v", err), time.Since(start))
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = b.Dir
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return failure(fmt.Sprintf("create stdout capture: %v", err), time.Since(start))
	}
	defer stdoutFile.Close()
	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		return failure(fmt.Sprintf("create stderr capture: %v", err), time.Since(start))
	}
	defer stderrFile.Close()
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	if err := cmd.Start(); err != nil {
		return failure(fmt.Sprintf("start %s: %v", argv[0], err), time.Since(start))
	}

	waitErr, timedOut := b.poll(ctx, cmd, req, stdoutPath, stderrPath, start)

	elapsed := time.Since(start)
	output := readCapture(stdoutPath)
	stderrTail := tail(readCapture(stderrPath), 2000)

	if timedOut {
		return Result{
			Output:   output,
			Err:      fmt.Sprintf("step %s timed out after %s", req.StepID, req.Timeout),
			TimedOut: true,
			Elapsed:  elapsed,
		}
	}

	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	// Exit 0 is success. So is substantial output with a non-zero exit:
	// several agent CLIs exit non-zero on benign warnings after completing
	// their answer, and discarding that work would force a pointless rerun.
	if exitCode == 0 || len(strings.TrimSpace(output)) >= minUsefulOutput {
		return Result{OK: true, Output: output, Elapsed: elapsed}
	}

	errMsg := fmt.Sprintf("%s exited with code %d", argv[0], exitCode)
	if stderrTail != "" {
		errMsg += ": " + stderrTail
	}
	return Result{Output: output, Err: errMsg, Elapsed: elapsed}
}

// poll waits for the subprocess without blocking the whole budget on a
// single Wait: a fast completion check first, then progress ticks.
func (b *CLIBackend) poll(ctx context.Context, cmd *exec.Cmd, req Request, stdoutPath, stderrPath string, start time.Time) (waitErr error, timedOut bool) {
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var deadline <-chan time.Time
	if req.Timeout > 0 {
		t := time.NewTimer(req.Timeout)
		defer t.Stop()
		deadline = t.C
	}

	// Fast path: short invocations return within the first check.
	select {
	case err := <-waitCh:
		return err, false
	case <-time.After(fastCheckInterval):
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			return err, false
		case <-ticker.C:
			if b.Progress != nil {
				outSize, _ := captureSize(stdoutPath)
				errSize, _ := captureSize(stderrPath)
				b.Progress("step %s running %s, captured %d bytes stdout / %d bytes stderr",
					req.StepID, time.Since(start).Round(time.Second), outSize, errSize)
			}
		case <-deadline:
			b.terminate(cmd, waitCh)
			return nil, true
		case <-ctx.Done():
			b.terminate(cmd, waitCh)
			return ctx.Err(), false
		}
	}
}

// terminate signals the process group: SIGTERM, grace period, SIGKILL.
func (b *CLIBackend) terminate(cmd *exec.Cmd, waitCh <-chan error) {
	_ = killProcessGroup(cmd, syscall.SIGTERM)
	select {
	case <-waitCh:
		return
	case <-time.After(termGrace):
	}
	_ = killProcessGroup(cmd, syscall.SIGKILL)
	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
	}
}

func killProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func captureSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

func readCapture(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
