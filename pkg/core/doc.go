// Package core provides the fundamental types and interfaces for the ops package.
//
// This package contains:
//   - Operation, OperationEdge and OperationGroup models with GORM annotations
//   - Status, importance, kind and result enums with their status sets
//   - Storage interface defining the persistence contract
//   - Event types for engine monitoring
//   - Error types for validation and processing
//
// Most users should import the root package github.com/jdziat/simple-durable-ops
// instead of this package directly.
package core
