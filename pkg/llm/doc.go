// Package llm wraps model endpoints behind a Provider interface and
// maintains the ordered conversation history submitted to them.
//
// Invariants:
// - History is append-only; messages are never reordered or mutated.
// - Every dispatched tool call gets a tool-role message, success or not.
// - Provider errors are retried with backoff only when retryable.
package llm
