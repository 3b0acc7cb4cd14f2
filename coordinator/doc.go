// Package coordinator accepts user queries, runs each in its own reasoning
// loop with a bounded worker pool, owns the per-query deadline, and retains a
// capped history of completed queries.
package coordinator
