package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/cmci/internal/log"
)

const (
	// maxStderrBytes caps the stderr tail kept for history.
	maxStderrBytes = 64 * 1024

	// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// Exec runs steps as real subprocesses.
type Exec struct {
	stdout io.Writer
	stderr io.Writer
	grace  time.Duration
	logger *slog.Logger
}

// Option configures an Exec runner.
type Option func(*Exec)

// WithOutput sets where the child's stdout and stderr are streamed.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Exec) {
		e.stdout = stdout
		e.stderr = stderr
	}
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Exec) { e.grace = d }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exec) { e.logger = l }
}

// NewExec creates an Exec runner streaming to os.Stdout/os.Stderr.
func NewExec(opts ...Option) *Exec {
	e := &Exec{
		stdout: os.Stdout,
		stderr: os.Stderr,
		grace:  DefaultGracePeriod,
		logger: log.WithComponent("runner"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes step and waits for it. The returned Outcome is non-nil whenever
// the process was started or looked up, including on failure.
func (e *Exec) Run(ctx context.Context, step Step) (*Outcome, error) {
	out := &Outcome{Step: step}
	if len(step.Argv) == 0 {
		return out, fmt.Errorf("step %q has empty argv", step.Name)
	}

	logger := e.logger.With("step", step.Name)

	path, err := exec.LookPath(step.Argv[0])
	if err != nil {
		out.ExitCode = ExitCodeNotFound
		logger.Error("executable not found", "tool", step.Argv[0], "error", err)
		return out, &ExitError{
			Step: step.Name,
			Code: ExitCodeNotFound,
			Err:  fmt.Errorf("%w: %s", ErrToolNotFound, step.Argv[0]),
		}
	}

	// Not CommandContext: termination is managed below so SIGTERM comes first.
	cmd := exec.Command(path, step.Argv[1:]...)
	cmd.Dir = step.Dir
	// Bounds Wait when a grandchild keeps the output pipes open.
	cmd.WaitDelay = e.grace
	if len(step.Env) > 0 {
		cmd.Env = append(os.Environ(), step.Env...)
	}

	tail := &tailBuffer{max: maxStderrBytes}
	cmd.Stdout = e.stdout
	cmd.Stderr = io.MultiWriter(e.stderr, tail)

	logger.Info("running step", "argv", step.Argv, "timeout", step.Timeout)
	start := time.Now()

	if err := cmd.Start(); err != nil {
		out.ExitCode = 1
		return out, &ExitError{Step: step.Name, Code: 1, Err: fmt.Errorf("start process: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if step.Timeout > 0 {
		timer := time.NewTimer(step.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var werr, cancelled error
	select {
	case werr = <-waitErr:
	case <-timeoutC:
		logger.Warn("step timed out, sending SIGTERM")
		e.terminate(cmd, waitErr, logger)
		out.TimedOut = true
	case <-ctx.Done():
		logger.Warn("context done, sending SIGTERM", "error", ctx.Err())
		e.terminate(cmd, waitErr, logger)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.TimedOut = true
		} else {
			cancelled = ctx.Err()
		}
	}

	out.Duration = time.Since(start)
	out.Stderr = tail.String()

	switch {
	case out.TimedOut:
		out.ExitCode = ExitCodeTimeout
		return out, &ExitError{Step: step.Name, Code: ExitCodeTimeout, TimedOut: true}
	case cancelled != nil:
		out.ExitCode = ExitCodeInterrupted
		return out, &ExitError{Step: step.Name, Code: ExitCodeInterrupted, Err: cancelled}
	}

	if werr != nil {
		var exitErr *exec.ExitError
		if !errors.As(werr, &exitErr) {
			out.ExitCode = 1
			return out, &ExitError{Step: step.Name, Code: 1, Err: fmt.Errorf("wait for process: %w", werr)}
		}
		out.ExitCode = exitStatus(exitErr)
		logger.Warn("step exited with non-zero status", "exit_code", out.ExitCode, "duration", out.Duration)
		return out, &ExitError{Step: step.Name, Code: out.ExitCode}
	}

	logger.Info("step succeeded", "duration", out.Duration)
	return out, nil
}

// terminate sends SIGTERM, then SIGKILL after the grace period, and waits
// for the process to exit.
func (e *Exec) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(e.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("process exited after SIGTERM")
	case <-grace.C:
		logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func exitStatus(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	if code := exitErr.ExitCode(); code > 0 {
		return code
	}
	return 1
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if n >= t.max {
		t.buf.Reset()
		t.buf.Write(p[n-t.max:])
		return n, nil
	}
	if over := t.buf.Len() + n - t.max; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
