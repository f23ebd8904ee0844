// Package agent drives the turn-taking loop between model generation
// and tool execution for one session.
//
// Invariants:
//   - Tool calls within a round run sequentially in request order.
//   - Every dispatched call records a result, success or failure.
//   - The loop is bounded; exceeding the round cap terminates the run
//     with the best answer so far and a truncation flag.
package agent
