// Package schedule runs the brain's background maintenance.
//
// Tasks (confidence decay, metric collection, backups) register with a
// Scheduler and fire when either enough time has elapsed or enough write
// events have accumulated, whichever comes first. The clock is injectable,
// so trigger behavior is fully deterministic in tests; no real sleeps are
// needed. Tasks are expected to be idempotent and re-entrant: a task
// re-run after an interruption must not double-apply its work.
package schedule
