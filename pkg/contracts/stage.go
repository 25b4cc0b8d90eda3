package contracts

import "fmt"

// Stage identifies a lifecycle stage of a task. Each stage has its own
// channel; an envelope is only ever consumed by the worker for its stage.
type Stage string

const (
	StageEval     Stage = "EVAL"
	StageApproval Stage = "APPROVAL"
	StageExec     Stage = "EXEC"
)

// ParseStage converts a wire string into a Stage.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageEval, StageApproval, StageExec:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("unknown stage: %q", s)
	}
}

func (s Stage) String() string { return string(s) }
