// Package hub multiplexes agent sessions: each session id owns one
// backend client manager and one engine, runs are background units of
// work, and their progress is relayed as an ordered event stream.
//
// Invariants:
//   - Sessions share no mutable state; teardown happens exactly once.
//   - Runs within a session are serialized; sessions run in parallel.
//   - Every stream terminates, including on error, by channel close.
package hub
