// Package storage provides storage implementations for operation persistence.
//
// This package includes:
//   - GormStorage: a GORM-based core.Storage for SQLite and PostgreSQL with
//     version compare-and-swap updates and a named scheduler lock table
//   - Open: dialect selection by driver name plus connection pool setup
//
// The Storage interface is defined in pkg/core and must be implemented
// by any custom storage backend.
//
// Most users should import the root package github.com/jdziat/simple-durable-ops
// which provides NewGormStorage() to create storage instances.
package storage
