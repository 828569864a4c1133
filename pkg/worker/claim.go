package worker

import (
	"context"
	"errors"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

// Claim is an operation a worker has taken ownership of.
type Claim struct {
	Operation *core.Operation
	// From is the status the operation had before it was claimed.
	From core.OperationStatus
	// Version is the version written by the claim.
	Version int64
}

// Claimer moves operations into their in-work statuses with a version
// compare-and-swap so that only one worker processes an operation.
type Claimer struct {
	storage core.Storage
}

// NewClaimer creates a Claimer.
func NewClaimer(s core.Storage) *Claimer {
	return &Claimer{storage: s}
}

// ClaimStatus returns the status an operation moves to when claimed and
// whether it can be claimed at all. A WAIT_RESPONSE operation keeps its
// status; claiming it only bumps the version.
func ClaimStatus(op *core.Operation) (core.OperationStatus, bool) {
	switch {
	case op.Status.IsExecutable():
		return core.StatusInWork, true
	case op.Status == core.StatusVerification:
		return core.StatusVerificationInWork, true
	case op.Status == core.StatusWaitResponse:
		return core.StatusWaitResponse, true
	case (op.Status == core.StatusSuccess || op.Status.IsFatal()) && op.CanRollback():
		return core.StatusRollbackInWork, true
	}
	return "", false
}

// Claim re-reads the operation and claims it. It returns nil without an
// error when the operation is not claimable or another worker won.
func (c *Claimer) Claim(ctx context.Context, operationID string) (*Claim, error) {
	var claim *Claim
	err := c.storage.Transaction(ctx, func(tx core.Storage) error {
		op, err := tx.GetOperation(ctx, operationID)
		if err != nil {
			return err
		}
		next, ok := ClaimStatus(op)
		if !ok {
			return nil
		}
		from := op.Status
		op.Status = next
		if err := tx.UpdateOperation(ctx, op); err != nil {
			if errors.Is(err, core.ErrVersionConflict) {
				return nil
			}
			return err
		}
		claim = &Claim{Operation: op, From: from, Version: op.Version}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// Release puts a claimed operation back into the status it was claimed
// from. It is used when processing failed before a new state was stored.
// Nothing happens when the operation has moved on since the claim.
func (c *Claimer) Release(ctx context.Context, claim *Claim) error {
	op, err := c.storage.GetOperation(ctx, claim.Operation.ID)
	if err != nil {
		return err
	}
	if op.Version != claim.Version {
		return nil
	}
	op.Status = claim.From
	err = c.storage.UpdateOperation(ctx, op)
	if errors.Is(err, core.ErrVersionConflict) {
		return nil
	}
	return err
}
