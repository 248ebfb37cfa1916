// Package progress publishes migration progress snapshots to Redis.
//
// Each tenant has at most one snapshot, stored as JSON under
// <prefix>migration:<tenant> and refreshed with a TTL on every write. The
// scheduler's in-memory registry remains the source of truth for the process
// running a job; the cache serves readers in other processes, such as
// `stash status`.
package progress
