// Package loop implements the per-query reasoning loop: a state machine that
// alternates between model generation and tool invocation until it produces a
// final answer, fails, or is cancelled.
//
// Each Loop owns exactly one conversation and one credential context; neither
// is shared across loops. The tool-server session may be shared, so the loop
// only depends on its concurrent-safe Invoke contract.
package loop
