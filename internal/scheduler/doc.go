// Package scheduler drives the periodic evaluation loop: it selects due
// reminders from the store, resolves live cycles, matches recipients, claims
// (reminder, cycle) pairs in the dedupe ledger, and hands qualifying jobs to
// the dispatcher. Claims make firing at-most-once across racing processes;
// everything else here is best-effort per tick.
package scheduler
