package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tollgate-labs/tollgate/pkg/artifacts"
	"github.com/tollgate-labs/tollgate/pkg/audit"
	"github.com/tollgate-labs/tollgate/pkg/channel"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
	"github.com/tollgate-labs/tollgate/pkg/scoring"
)

// EvalWorker consumes evaluation-stage envelopes, scores them and records
// the evaluation artifact, then publishes the approval request. Scoring is
// deterministic, so a redelivered message converges on the same artifact.
type EvalWorker struct {
	evalCh     channel.Channel
	approvalCh channel.Channel
	store      artifacts.Store
	scorer     scoring.Scorer
	deadletter *channel.DeadLetter
	auditor    audit.Logger
	logger     *slog.Logger
	telemetry  Telemetry
	retry      retryPolicy
	now        func() time.Time
}

// NewEvalWorker wires an evaluation worker.
func NewEvalWorker(evalCh, approvalCh channel.Channel, store artifacts.Store, scorer scoring.Scorer, dl *channel.DeadLetter, auditor audit.Logger, logger *slog.Logger) *EvalWorker {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EvalWorker{
		evalCh:     evalCh,
		approvalCh: approvalCh,
		store:      store,
		scorer:     scorer,
		deadletter: dl,
		auditor:    auditor,
		logger:     logger.With("component", "eval_worker"),
		telemetry:  nopTelemetry{},
		retry:      defaultRetryPolicy(),
		now:        time.Now,
	}
}

// WithTelemetry attaches an observability provider to the worker.
func (w *EvalWorker) WithTelemetry(t Telemetry) *EvalWorker {
	if t != nil {
		w.telemetry = t
	}
	return w
}

// Run drains the evaluation channel until ctx is cancelled.
func (w *EvalWorker) Run(ctx context.Context, wait time.Duration) error {
	return runLoop(ctx, w.evalCh, wait, w.logger, w.Process)
}

// Process handles one leased message end to end.
func (w *EvalWorker) Process(ctx context.Context, msg *channel.Message) error {
	env, err := contracts.DecodeEnvelope(msg.Body)
	if err != nil {
		return w.reject(ctx, msg, fmt.Sprintf("invalid envelope: %v", err))
	}
	ctx, done := w.telemetry.TrackStage(ctx, contracts.StageEval.String(), env.TaskID)
	err = w.process(ctx, msg, env)
	done(err)
	return err
}

func (w *EvalWorker) process(ctx context.Context, msg *channel.Message, env contracts.TaskEnvelope) error {
	if env.Stage != contracts.StageEval {
		return w.reject(ctx, msg, fmt.Sprintf("stage %s on evaluation channel", env.Stage))
	}

	key := artifacts.EvalKey(env.TaskID)
	eval, fresh, err := w.evaluation(ctx, key, env)
	if err != nil {
		if errors.Is(err, scoring.ErrUnscorable) {
			return w.reject(ctx, msg, err.Error())
		}
		return err
	}
	if !fresh {
		w.logger.Info("evaluation already recorded, republishing",
			"task_id", env.TaskID,
			"attempt", msg.Attempt,
		)
	}

	next := env.Advance(contracts.StageApproval, key.ObjectPath(), w.now())
	err = commit(ctx, w.retry, w.logger, commitSteps{
		Artifact: func(ctx context.Context) error {
			return w.put(ctx, key, eval)
		},
		Publish: func(ctx context.Context) error {
			return channel.Publish(ctx, w.approvalCh, next)
		},
		Ack: func(ctx context.Context) error {
			return w.evalCh.Ack(ctx, msg.Receipt)
		},
	})
	if err != nil {
		return fmt.Errorf("evaluate task %s: %w", env.TaskID, err)
	}

	if err := w.auditor.Record(env, audit.EventEvaluated, map[string]any{
		"aggregate":     eval.AggregateScore,
		"decision_hint": eval.DecisionHint,
	}); err != nil {
		w.logger.Warn("audit record failed", "task_id", env.TaskID, "error", err)
	}
	w.logger.Info("task evaluated",
		"trace_id", env.TraceID,
		"task_id", env.TaskID,
		"aggregate", eval.AggregateScore,
		"decision_hint", eval.DecisionHint,
	)
	return nil
}

// evaluation returns the evaluation record for the task, reusing an existing
// artifact on redelivery so the recorded timestamps never churn.
func (w *EvalWorker) evaluation(ctx context.Context, key artifacts.Key, env contracts.TaskEnvelope) (contracts.Evaluation, bool, error) {
	var existing contracts.Evaluation
	err := w.store.Get(ctx, key, &existing)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, artifacts.ErrNotFound) {
		return contracts.Evaluation{}, false, fmt.Errorf("load evaluation for task %s: %w", env.TaskID, err)
	}

	res, err := w.scorer.Score(env.Payload)
	if err != nil {
		return contracts.Evaluation{}, false, err
	}
	return contracts.Evaluation{
		TraceID:        env.TraceID,
		TaskID:         env.TaskID,
		Scores:         res.Scores,
		AggregateScore: res.AggregateScore,
		DecisionHint:   res.DecisionHint,
		WrittenAt:      w.now().UTC(),
	}, true, nil
}

// put writes the evaluation, tolerating a concurrent worker having won the
// write race. The scores are deterministic, so the racing records can only
// differ in the written-at timestamp.
func (w *EvalWorker) put(ctx context.Context, key artifacts.Key, eval contracts.Evaluation) error {
	err := w.store.Put(ctx, key, eval)
	if errors.Is(err, artifacts.ErrConflict) {
		w.logger.Warn("lost evaluation write race, keeping existing artifact",
			"task_id", eval.TaskID,
		)
		return nil
	}
	return err
}

// reject routes the message to the dead-letter channel and acknowledges it.
// Used for non-retriable failures where redelivery cannot help.
func (w *EvalWorker) reject(ctx context.Context, msg *channel.Message, reason string) error {
	if err := w.deadletter.Route(ctx, msg, reason); err != nil {
		return fmt.Errorf("dead-letter message %s: %w", msg.ID, err)
	}
	if err := w.evalCh.Ack(ctx, msg.Receipt); err != nil {
		return fmt.Errorf("ack dead-lettered message %s: %w", msg.ID, err)
	}
	w.telemetry.RecordDeadLetter(ctx, contracts.StageEval.String())
	return nil
}
