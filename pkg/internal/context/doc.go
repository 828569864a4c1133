// Package context provides internal context helpers for operation execution.
//
// This package is internal and should not be imported directly.
// It carries the operation being processed, and the step being run, from
// the processor to executors and to nested enqueue calls.
package context
