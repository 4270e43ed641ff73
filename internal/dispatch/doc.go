// Package dispatch selects and runs the build/verification strategy for a
// target triple.
//
// Strategy by target class:
//   - cm7-r0p1 (thumbv7em-none-eabi*): feature-gated cargo check, then plain cargo check
//   - other bare-metal thumb profiles: plain cargo check
//   - hosted targets: cargo test
//
// Embedded targets never execute tests because they cannot host a test runner.
//
// Gating:
//   - On the primary integration branch the dispatcher skips, since the merge
//     queue already validated the commit
//   - Scheduled (periodic) runs always execute
//
// Error handling:
//   - Steps run sequentially; the first failing step aborts the run
//   - The failing step's exit status is propagated through *runner.ExitError
//   - No retries and no partial continuation
package dispatch
