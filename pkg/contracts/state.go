package contracts

// TaskState is the lifecycle state of a task. States are never stored:
// they are derived from which artifacts exist, so the machine is
// recoverable purely by querying the artifact store.
type TaskState string

const (
	StateSubmitted       TaskState = "SUBMITTED"
	StatePendingApproval TaskState = "PENDING_APPROVAL"
	StateApproved        TaskState = "APPROVED"
	StateRejected        TaskState = "REJECTED"
	StateSucceeded       TaskState = "SUCCEEDED"
	StateFailed          TaskState = "FAILED"
)

// Terminal reports whether no further lifecycle transitions can occur.
func (s TaskState) Terminal() bool {
	switch s {
	case StateRejected, StateSucceeded, StateFailed:
		return true
	default:
		return false
	}
}

// DeriveState reconstructs the task state from artifact presence and
// content. Nil means the artifact does not exist.
func DeriveState(eval *Evaluation, approval *ApprovalDecision, exec *Execution) TaskState {
	if exec != nil {
		if exec.Status == ExecSuccess {
			return StateSucceeded
		}
		return StateFailed
	}
	if approval != nil {
		if approval.Approved {
			return StateApproved
		}
		return StateRejected
	}
	if eval != nil {
		return StatePendingApproval
	}
	return StateSubmitted
}
