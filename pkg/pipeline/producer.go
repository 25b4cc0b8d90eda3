package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tollgate-labs/tollgate/pkg/audit"
	"github.com/tollgate-labs/tollgate/pkg/channel"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

// Producer admits tasks into the lifecycle: it mints the task identity,
// builds the first-stage envelope and publishes it to the evaluation channel.
type Producer struct {
	evalCh  channel.Channel
	auditor audit.Logger
	logger  *slog.Logger
	now     func() time.Time
	taskID  func() string
}

// NewProducer wires a producer over the evaluation channel.
func NewProducer(evalCh channel.Channel, auditor audit.Logger, logger *slog.Logger) *Producer {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		evalCh:  evalCh,
		auditor: auditor,
		logger:  logger.With("component", "producer"),
		now:     time.Now,
		taskID:  contracts.NewTaskID,
	}
}

// Submit validates the payload and publishes the evaluation-stage envelope.
// The returned envelope carries the minted trace and task identifiers.
func (p *Producer) Submit(ctx context.Context, payload contracts.Payload) (contracts.TaskEnvelope, error) {
	if err := payload.Validate(); err != nil {
		return contracts.TaskEnvelope{}, fmt.Errorf("submit: %w", err)
	}

	env := contracts.NewEnvelope(contracts.NewTraceContext(), p.taskID(), payload, p.now())
	if err := channel.Publish(ctx, p.evalCh, env); err != nil {
		return contracts.TaskEnvelope{}, fmt.Errorf("submit task %s: %w", env.TaskID, err)
	}

	if err := p.auditor.Record(env, audit.EventSubmitted, map[string]any{
		"action": payload.Action,
	}); err != nil {
		p.logger.Warn("audit record failed", "task_id", env.TaskID, "error", err)
	}
	p.logger.Info("task submitted",
		"trace_id", env.TraceID,
		"task_id", env.TaskID,
		"action", payload.Action,
	)
	return env, nil
}
