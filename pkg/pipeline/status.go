package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/tollgate-labs/tollgate/pkg/artifacts"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

// TaskStatus reconstructs a task's lifecycle state from the artifact store
// alone. No worker state is consulted; the artifacts are the system of
// record.
func TaskStatus(ctx context.Context, store artifacts.Store, taskID string) (contracts.TaskState, error) {
	var (
		eval     contracts.Evaluation
		approval contracts.ApprovalDecision
		exec     contracts.Execution

		evalPtr     *contracts.Evaluation
		approvalPtr *contracts.ApprovalDecision
		execPtr     *contracts.Execution
	)

	if err := store.Get(ctx, artifacts.EvalKey(taskID), &eval); err == nil {
		evalPtr = &eval
	} else if !errors.Is(err, artifacts.ErrNotFound) {
		return "", fmt.Errorf("status for task %s: %w", taskID, err)
	}
	if err := store.Get(ctx, artifacts.ApprovalKey(taskID), &approval); err == nil {
		approvalPtr = &approval
	} else if !errors.Is(err, artifacts.ErrNotFound) {
		return "", fmt.Errorf("status for task %s: %w", taskID, err)
	}
	if err := store.Get(ctx, artifacts.ExecKey(taskID), &exec); err == nil {
		execPtr = &exec
	} else if !errors.Is(err, artifacts.ErrNotFound) {
		return "", fmt.Errorf("status for task %s: %w", taskID, err)
	}

	return contracts.DeriveState(evalPtr, approvalPtr, execPtr), nil
}
