// Package health provides health checks for the brain's storage tiers.
//
// Each tier's backing store can be probed with StoreCheck, the data
// directory with FileCheck, and external dependencies such as the git
// binary with BinaryCheck. Combine aggregates individual checks into one
// status with the usual priority: any unhealthy check makes the whole
// unhealthy, otherwise any degraded check makes it degraded.
package health
