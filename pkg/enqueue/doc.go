// Package enqueue adds operations to the group of the current unit of work.
//
// This package includes:
//   - Manager: validates operation settings, creates the group lazily,
//     resolves predecessors, rejects cycles and persists operations in the
//     caller's transaction
//   - Unit: the per-transaction state (group id, after-commit set,
//     optimized-operation cache)
//   - Option: per-operation settings (importance, priority, retries,
//     deadlines, predecessors, after-commit execution)
//
// Most users should import the root package github.com/jdziat/simple-durable-ops
// which re-exports Manager and all option functions.
package enqueue
