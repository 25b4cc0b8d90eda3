package contracts

import (
	"fmt"
	"time"

	"github.com/tollgate-labs/tollgate/pkg/canonicalize"
)

// TaskEnvelope is the message published to a channel representing a task at
// a specific lifecycle stage. Envelopes are immutable once published; a new
// variant is constructed at each stage transition, carrying the same trace
// and task identity.
type TaskEnvelope struct {
	TraceID   string    `json:"trace_id"`
	TaskID    string    `json:"task_id"`
	Stage     Stage     `json:"stage"`
	Payload   Payload   `json:"payload"`
	DedupKey  string    `json:"dedup_key"`
	CreatedAt time.Time `json:"created_at"`

	// EvalRef carries the evaluation artifact key once one exists
	// (set on APPROVAL and EXEC envelopes).
	EvalRef string `json:"eval_ref,omitempty"`
}

// DedupKey computes the deterministic idempotency key for a task at a stage.
// Identical (task, stage) pairs always produce the same key regardless of
// where or when the envelope is built.
func DedupKey(taskID string, stage Stage) string {
	hash, err := canonicalize.CanonicalHash(map[string]string{
		"task_id": taskID,
		"stage":   stage.String(),
	})
	if err != nil {
		// A map of two strings cannot fail canonicalization.
		panic(fmt.Sprintf("dedup key: %v", err))
	}
	return hash
}

// NewEnvelope builds the first-stage (EVAL) envelope for a payload.
func NewEnvelope(tc TraceContext, taskID string, payload Payload, now time.Time) TaskEnvelope {
	return TaskEnvelope{
		TraceID:   tc.TraceID,
		TaskID:    taskID,
		Stage:     StageEval,
		Payload:   payload,
		DedupKey:  DedupKey(taskID, StageEval),
		CreatedAt: now.UTC(),
	}
}

// Advance builds the next-stage envelope from e, preserving trace and task
// identity. evalRef is the evaluation artifact reference carried forward.
func (e TaskEnvelope) Advance(next Stage, evalRef string, now time.Time) TaskEnvelope {
	out := e
	out.Stage = next
	out.DedupKey = DedupKey(e.TaskID, next)
	out.CreatedAt = now.UTC()
	if evalRef != "" {
		out.EvalRef = evalRef
	}
	return out
}

// Validate checks the minimum required envelope fields.
func (e TaskEnvelope) Validate() error {
	if e.TraceID == "" {
		return fmt.Errorf("envelope: missing trace_id")
	}
	if e.TaskID == "" {
		return fmt.Errorf("envelope: missing task_id")
	}
	if _, err := ParseStage(string(e.Stage)); err != nil {
		return fmt.Errorf("envelope: %w", err)
	}
	if e.DedupKey != DedupKey(e.TaskID, e.Stage) {
		return fmt.Errorf("envelope: dedup_key does not match task_id+stage")
	}
	return e.Payload.Validate()
}
