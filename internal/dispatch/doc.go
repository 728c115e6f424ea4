// Package dispatch delivers claimed reminders through the messaging
// collaborator: per-channel batching, rate limiting, bounded retry with
// backoff, and ledger commit/rollback per outcome.
package dispatch
