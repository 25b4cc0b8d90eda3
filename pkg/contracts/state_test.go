package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveState(t *testing.T) {
	eval := &Evaluation{TaskID: "t"}
	approved := &ApprovalDecision{TaskID: "t", Approved: true}
	rejected := &ApprovalDecision{TaskID: "t", Approved: false}
	succeeded := &Execution{TaskID: "t", Status: ExecSuccess}
	failed := &Execution{TaskID: "t", Status: ExecFailure}

	tests := []struct {
		name     string
		eval     *Evaluation
		approval *ApprovalDecision
		exec     *Execution
		want     TaskState
	}{
		{"no artifacts", nil, nil, nil, StateSubmitted},
		{"evaluated", eval, nil, nil, StatePendingApproval},
		{"approved", eval, approved, nil, StateApproved},
		{"rejected", eval, rejected, nil, StateRejected},
		{"succeeded", eval, approved, succeeded, StateSucceeded},
		{"failed", eval, approved, failed, StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveState(tt.eval, tt.approval, tt.exec))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StateRejected.Terminal())
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateSubmitted.Terminal())
	assert.False(t, StatePendingApproval.Terminal())
	assert.False(t, StateApproved.Terminal())
}
