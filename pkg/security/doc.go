// Package security provides validation, sanitization, and limits for the ops package.
//
// This package includes:
//   - Input validation for executor names and operation configuration ranges
//   - Comment and description sanitization before they are persisted
//   - Clamping functions to enforce safe limits on the worker pool
//   - Security-related constants defining maximum sizes and counts
//
// Most users should import the root package github.com/jdziat/simple-durable-ops
// which re-exports these functions.
package security
