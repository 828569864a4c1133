package core

import "time"

// Event is the interface for all engine events.
type Event interface {
	eventMarker()
}

// OperationEnqueued is emitted when an operation is persisted.
type OperationEnqueued struct {
	Operation *Operation
	Timestamp time.Time
}

func (*OperationEnqueued) eventMarker() {}

// OperationDispatched is emitted when the pool accepts an operation.
type OperationDispatched struct {
	OperationID string
	GroupID     string
	Timestamp   time.Time
}

func (*OperationDispatched) eventMarker() {}

// OperationRejected is emitted when the pool is saturated. The operation
// stays eligible and is offered again on a later pass.
type OperationRejected struct {
	OperationID string
	GroupID     string
	Timestamp   time.Time
}

func (*OperationRejected) eventMarker() {}

// OperationProcessed is emitted after the processor persisted a new state.
type OperationProcessed struct {
	Operation *Operation
	Previous  OperationStatus
	Duration  time.Duration
	Timestamp time.Time
}

func (*OperationProcessed) eventMarker() {}

// GroupStatusChanged is emitted when aggregation moves a group to a new status.
type GroupStatusChanged struct {
	GroupID   string
	From      GroupStatus
	To        GroupStatus
	Comment   string
	Timestamp time.Time
}

func (*GroupStatusChanged) eventMarker() {}
