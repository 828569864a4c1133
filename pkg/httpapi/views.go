package httpapi

import (
	"time"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

type operationView struct {
	ID                  string     `json:"id"`
	GroupID             string     `json:"group_id"`
	RelatedEntityID     string     `json:"related_entity_id,omitempty"`
	Description         string     `json:"description,omitempty"`
	Executor            string     `json:"executor"`
	Kind                string     `json:"kind"`
	Importance          string     `json:"importance"`
	RollbackType        string     `json:"rollback_type"`
	Priority            int        `json:"priority"`
	Status              string     `json:"status"`
	ExecutionResult     string     `json:"execution_result,omitempty"`
	AttemptCount        int        `json:"attempt_count"`
	MaxAttemptCount     int        `json:"max_attempt_count"`
	RetryDelay          string     `json:"retry_delay"`
	WaitResponseTimeout string     `json:"wait_response_timeout,omitempty"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	LastExecutionAt     *time.Time `json:"last_execution_at,omitempty"`
	Comment             string     `json:"comment,omitempty"`
	Previous            []string   `json:"previous,omitempty"`
	Version             int64      `json:"version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toOperationView(op *core.Operation) operationView {
	v := operationView{
		ID:              op.ID,
		GroupID:         op.GroupID,
		RelatedEntityID: op.RelatedEntityID,
		Description:     op.Description,
		Executor:        op.ExecutorName,
		Kind:            string(op.Kind),
		Importance:      string(op.Importance),
		RollbackType:    string(op.RollbackType),
		Priority:        op.Priority,
		Status:          string(op.Status),
		ExecutionResult: string(op.ExecutionResult),
		AttemptCount:    op.AttemptCount,
		MaxAttemptCount: op.MaxAttemptCount,
		RetryDelay:      op.RetryDelay.String(),
		Deadline:        op.Deadline,
		LastExecutionAt: op.LastExecutionAt,
		Comment:         op.Comment,
		Previous:        op.Previous,
		Version:         op.Version,
		CreatedAt:       op.CreatedAt,
		UpdatedAt:       op.UpdatedAt,
	}
	if op.WaitResponseTimeout != nil {
		v.WaitResponseTimeout = op.WaitResponseTimeout.String()
	}
	return v
}

type groupView struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Description       string          `json:"description,omitempty"`
	Comment           string          `json:"comment,omitempty"`
	ParentOperationID *string         `json:"parent_operation_id,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Operations        []operationView `json:"operations"`
}

func toGroupView(g *core.OperationGroup, ops []*core.Operation) groupView {
	v := groupView{
		ID:                g.ID,
		Status:            string(g.Status),
		Description:       g.Description,
		Comment:           g.Comment,
		ParentOperationID: g.ParentOperationID,
		Version:           g.Version,
		CreatedAt:         g.CreatedAt,
		UpdatedAt:         g.UpdatedAt,
		Operations:        make([]operationView, 0, len(ops)),
	}
	for _, op := range ops {
		v.Operations = append(v.Operations, toOperationView(op))
	}
	return v
}

type eventView struct {
	Type        string         `json:"type"`
	OperationID string         `json:"operation_id,omitempty"`
	GroupID     string         `json:"group_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Previous    string         `json:"previous,omitempty"`
	Comment     string         `json:"comment,omitempty"`
	Operation   *operationView `json:"operation,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

func toEventView(e core.Event) *eventView {
	switch ev := e.(type) {
	case *core.OperationEnqueued:
		op := toOperationView(ev.Operation)
		return &eventView{Type: "operation.enqueued", OperationID: op.ID, GroupID: op.GroupID, Status: op.Status, Operation: &op, Timestamp: ev.Timestamp}
	case *core.OperationDispatched:
		return &eventView{Type: "operation.dispatched", OperationID: ev.OperationID, GroupID: ev.GroupID, Timestamp: ev.Timestamp}
	case *core.OperationRejected:
		return &eventView{Type: "operation.rejected", OperationID: ev.OperationID, GroupID: ev.GroupID, Timestamp: ev.Timestamp}
	case *core.OperationProcessed:
		op := toOperationView(ev.Operation)
		return &eventView{Type: "operation.processed", OperationID: op.ID, GroupID: op.GroupID, Status: op.Status, Previous: string(ev.Previous), Operation: &op, Timestamp: ev.Timestamp}
	case *core.GroupStatusChanged:
		return &eventView{Type: "group.status_changed", GroupID: ev.GroupID, Status: string(ev.To), Previous: string(ev.From), Comment: ev.Comment, Timestamp: ev.Timestamp}
	default:
		return nil
	}
}
