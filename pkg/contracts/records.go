package contracts

import "time"

// Scores are the four deterministic scoring dimensions produced by the
// evaluation engine. All values are in [0, 1].
type Scores struct {
	Feasibility float64 `json:"feasibility"`
	Alignment   float64 `json:"alignment"`
	Risk        float64 `json:"risk"`
	Cost        float64 `json:"cost"`
}

// Decision hints emitted by the evaluation stage. Hints inform the human
// approver; they authorize nothing by themselves.
const (
	HintLikelySafe     = "likely_safe"
	HintReviewRequired = "review_required"
)

// Evaluation is the immutable record of the evaluation stage's outcome.
// Written exactly once per task, before the approval request is published.
type Evaluation struct {
	TraceID        string    `json:"trace_id"`
	TaskID         string    `json:"task_id"`
	Scores         Scores    `json:"scores"`
	AggregateScore float64   `json:"aggregate_score"`
	DecisionHint   string    `json:"decision_hint"`
	WrittenAt      time.Time `json:"written_at"`
}

// ApprovalDecision is the immutable record of the human decision. Presence
// of an approved decision is the sole authorization for execution.
type ApprovalDecision struct {
	TraceID   string    `json:"trace_id"`
	TaskID    string    `json:"task_id"`
	Approved  bool      `json:"approved"`
	Approver  string    `json:"approver"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}

// ExecStatus is the terminal status of the execution stage.
type ExecStatus string

const (
	ExecSuccess ExecStatus = "SUCCESS"
	ExecFailure ExecStatus = "FAILURE"
)

// Execution is the immutable record of the execution stage's outcome,
// written at most once per task.
type Execution struct {
	TraceID   string     `json:"trace_id"`
	TaskID    string     `json:"task_id"`
	Result    string     `json:"result"`
	Status    ExecStatus `json:"status"`
	WrittenAt time.Time  `json:"written_at"`
}
