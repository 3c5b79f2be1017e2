// Package knowledge implements Tier B of the brain: a long-lived pattern
// graph with typed relationships, a tag index, ranked full-text search, and
// scheduled confidence decay.
//
// Patterns enter the graph by explicit promotion or external insertion and
// carry a confidence in [0,1] that only decay and explicit reinforcement may
// change. Relationships are typed, unique per (from, to, kind), and both
// endpoints must exist. Patterns whose confidence crosses the deletion floor
// are removed unless pinned; pinned and immutable patterns never decay.
package knowledge
