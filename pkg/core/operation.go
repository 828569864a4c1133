// Package core provides the domain models and interfaces for the ops package.
package core

import (
	"time"
)

// Operation is a unit of work executed by a named executor.
type Operation struct {
	ID              string `gorm:"primaryKey;size:36"`
	GroupID         string `gorm:"index;size:36;not null"`
	RelatedEntityID string `gorm:"index;size:255"`
	Description     string `gorm:"type:text"`

	ExecutorName string        `gorm:"index;size:255;not null"`
	Kind         OperationKind `gorm:"size:32;not null"`
	Params       string        `gorm:"type:text"`
	Importance   Importance    `gorm:"size:16;not null"`
	RollbackType RollbackType  `gorm:"size:16;not null;default:'UNSUPPORTED'"`

	Priority            int `gorm:"index"`
	MaxAttemptCount     int
	RetryDelay          time.Duration
	WaitResponseTimeout *time.Duration
	Deadline            *time.Time

	Status          OperationStatus `gorm:"index;size:32;default:'CREATED'"`
	ExecutionResult ExecutionResult `gorm:"size:32"`
	AttemptCount    int
	LastExecutionAt *time.Time
	Comment         string    `gorm:"type:text"`
	Version         int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`

	// Previous holds the ids of the operations this one depends on.
	// Persisted through OperationEdge rows.
	Previous []string `gorm:"-"`
}

// OperationEdge is one dependency edge: OperationID runs after PreviousID.
type OperationEdge struct {
	OperationID string `gorm:"primaryKey;size:36"`
	PreviousID  string `gorm:"primaryKey;size:36;index"`
}

// OperationGroup accounts for the progress of the operations enqueued by
// one unit of work.
type OperationGroup struct {
	ID                string      `gorm:"primaryKey;size:36"`
	Description       string      `gorm:"type:text"`
	Comment           string      `gorm:"type:text"`
	Status            GroupStatus `gorm:"index;size:32;default:'CREATED'"`
	ParentOperationID *string     `gorm:"index;size:36"`
	Version           int64       `gorm:"not null;default:0"`
	CreatedAt         time.Time   `gorm:"index;autoCreateTime"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime"`
}

// SchedulerLock is a named lease used to keep periodic engine passes from
// running on more than one instance at a time.
type SchedulerLock struct {
	Name        string    `gorm:"primaryKey;size:64"`
	LockedBy    string    `gorm:"size:255"`
	LockedAt    time.Time
	LockedUntil time.Time `gorm:"index"`
}

// IsAsync reports whether a successful execution waits for an external result.
func (o *Operation) IsAsync() bool {
	return o.Kind.IsAsync()
}

// CanRollback reports whether the operation has rollback capability.
func (o *Operation) CanRollback() bool {
	return o.RollbackType == RollbackSupported
}

// RetryConfig returns the operation's current retry settings.
func (o *Operation) RetryConfig() RetryConfig {
	return RetryConfig{
		Priority:        o.Priority,
		RetryDelay:      o.RetryDelay,
		MaxAttemptCount: o.MaxAttemptCount,
		Deadline:        o.Deadline,
	}
}

// ApplyRetryConfig overwrites the operation's retry settings.
func (o *Operation) ApplyRetryConfig(rc RetryConfig) {
	o.Priority = rc.Priority
	o.RetryDelay = rc.RetryDelay
	o.MaxAttemptCount = rc.MaxAttemptCount
	o.Deadline = rc.Deadline
}

// RetryConfig is the subset of operation settings an executor may adjust
// after a failed attempt.
type RetryConfig struct {
	Priority        int
	RetryDelay      time.Duration
	MaxAttemptCount int
	Deadline        *time.Time
}
