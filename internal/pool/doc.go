// Package pool implements the account-pool scheduler core: the account
// registry, the concurrency admission controller, and the selection and
// failover policy.
//
// All mutable pool state (global and per-account in-flight counters,
// account health fields) lives behind a single Pool aggregate guarded by
// one mutex. Admission is strictly non-blocking: when a limit is reached
// the caller observes a typed capacity error immediately instead of
// queuing. Queuing is the async task runner's job, not the pool's.
package pool
