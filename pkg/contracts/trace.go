package contracts

import "github.com/google/uuid"

// TraceContext is the immutable correlation identifier attached to every
// envelope and artifact of a task. It is created once by the producer and
// propagated unchanged; it is the join key for reconstructing a task's
// full history.
type TraceContext struct {
	TraceID string `json:"trace_id"`
}

// NewTraceContext allocates a fresh trace context.
func NewTraceContext() TraceContext {
	return TraceContext{TraceID: uuid.New().String()}
}

// NewTaskID allocates a fresh task identifier.
func NewTaskID() string {
	return uuid.New().String()
}
