// Package runner executes toolchain steps as subprocesses.
//
// Each Step is a single argv invocation. The exec runner streams the child's
// stdout and stderr to the configured writers while keeping a bounded tail of
// stderr for run history.
//
// Timeout handling:
//   - A zero Step.Timeout means no timeout; the dispatcher relies on the CI
//     runner's own wall-clock budget
//   - When a timeout or context cancellation fires, SIGTERM is sent, then
//     SIGKILL after the grace period
//   - The step fails with an *ExitError whose TimedOut flag is set
//
// Error handling:
//   - Executable not found → *ExitError{Code: 127} wrapping ErrToolNotFound
//   - Non-zero exit → *ExitError carrying the child's exit code
//   - Killed by signal → *ExitError with code 128+signal
package runner
