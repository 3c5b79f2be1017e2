// Package intel implements Tier C of the brain: derived context
// intelligence computed from repository history.
//
// Metric snapshots are immutable once written for a date and only appended.
// Collection is throttled; a collection inside the throttle interval returns
// the prior snapshots together with a throttled error, which callers treat
// as a cache hit rather than a failure. Hotspot and velocity analyses are
// recomputed from history on demand, and insights are regenerated from those
// analyses by a CEL rule set, never hand-authored.
package intel
