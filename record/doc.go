// Package record implements the embedded record store shared by all memory
// tiers.
//
// Each tier owns exactly one SQLite database file opened through this
// package, so corruption in one tier never affects the others. The store
// provides transactional multi-write with rollback, a generic key/record
// table for small tier state, schema versioning, and tier-local corruption
// recovery: when the backing file is unreadable it is moved aside and the
// store is reinitialized from the last good backup, or from an empty schema
// when no backup exists.
package record
