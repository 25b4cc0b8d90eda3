// Package audit records lifecycle events as structured JSON lines. Every
// stage transition, decision and dead-letter routing emits one event keyed
// by trace and task, which is what ties a task's history together across
// workers.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventSubmitted    EventType = "TASK_SUBMITTED"
	EventEvaluated    EventType = "TASK_EVALUATED"
	EventPending      EventType = "APPROVAL_PENDING"
	EventDecided      EventType = "APPROVAL_DECIDED"
	EventExecuted     EventType = "TASK_EXECUTED"
	EventDeadLettered EventType = "DEAD_LETTERED"
)

// Event represents a structured audit record.
type Event struct {
	ID        string         `json:"id"`
	TraceID   string         `json:"trace_id"`
	TaskID    string         `json:"task_id"`
	Stage     string         `json:"stage,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(env contracts.TaskEnvelope, t EventType, metadata map[string]any) error
}

// logger implements Logger, writing one JSON line per event to a
// configurable writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	now    func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, now: time.Now}
}

func (l *logger) Record(env contracts.TaskEnvelope, t EventType, metadata map[string]any) error {
	event := Event{
		ID:        uuid.New().String(),
		TraceID:   env.TraceID,
		TaskID:    env.TaskID,
		Stage:     env.Stage.String(),
		Type:      t,
		Timestamp: l.now().UTC(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = l.writer.Write(append(bytes, '\n'))
	return err
}

// Nop discards all events. Useful for tests that do not assert on audit
// output.
type Nop struct{}

func (Nop) Record(contracts.TaskEnvelope, EventType, map[string]any) error { return nil }
