// Package worker provides the concurrent claim and dispatch layer.
//
// This package includes:
//   - Pool: a fixed number of goroutines with a bounded backlog that rejects
//     work instead of blocking
//   - Claimer: version compare-and-swap claims, so only one worker processes
//     an operation
//   - Dispatcher: claim, process and group refresh as one pool task
//   - RetryWithBackoff: exponential backoff for transient storage failures
//
// Most users should import the root package github.com/jdziat/simple-durable-ops
// which wires these together through the engine.
package worker
