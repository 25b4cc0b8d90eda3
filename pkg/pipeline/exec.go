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
	"github.com/tollgate-labs/tollgate/pkg/policy"
)

// Runner performs the side effect of an approved task and returns a human
// readable result. A Runner error becomes a FAILURE execution artifact, not
// a redelivery: the attempt itself is the terminal outcome.
type Runner interface {
	Run(ctx context.Context, env contracts.TaskEnvelope) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, env contracts.TaskEnvelope) (string, error)

func (f RunnerFunc) Run(ctx context.Context, env contracts.TaskEnvelope) (string, error) {
	return f(ctx, env)
}

// EchoRunner is the built-in runner: it performs no external effect and
// reports what it would have done. Deployments substitute their own Runner.
func EchoRunner() Runner {
	return RunnerFunc(func(_ context.Context, env contracts.TaskEnvelope) (string, error) {
		return fmt.Sprintf("executed action %q for task %s", env.Payload.Action, env.TaskID), nil
	})
}

// ExecWorker consumes execution-stage envelopes for approved tasks. Before
// running anything it re-verifies authorization against the artifact store:
// the approval artifact is the sole source of authority, and policy is
// re-evaluated as a pre-flight so a rule change between approval and
// execution still blocks the run.
type ExecWorker struct {
	execCh     channel.Channel
	store      artifacts.Store
	engines    policy.Engine
	runner     Runner
	deadletter *channel.DeadLetter
	auditor    audit.Logger
	logger     *slog.Logger
	telemetry  Telemetry
	retry      retryPolicy
	now        func() time.Time
	heartbeat  time.Duration
	lease      time.Duration
}

// ExecConfig wires an ExecWorker.
type ExecConfig struct {
	ExecChannel channel.Channel
	Store       artifacts.Store
	Engines     policy.Engine
	Runner      Runner
	DeadLetter  *channel.DeadLetter
	Auditor     audit.Logger
	Logger      *slog.Logger
	Telemetry   Telemetry     // optional; nil means no instrumentation
	Heartbeat   time.Duration // lease renewal interval during a run
	Lease       time.Duration // lease extension granted per heartbeat
}

// NewExecWorker creates an execution worker.
func NewExecWorker(cfg ExecConfig) *ExecWorker {
	if cfg.Runner == nil {
		cfg.Runner = EchoRunner()
	}
	if cfg.Auditor == nil {
		cfg.Auditor = audit.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = nopTelemetry{}
	}
	return &ExecWorker{
		execCh:     cfg.ExecChannel,
		store:      cfg.Store,
		engines:    cfg.Engines,
		runner:     cfg.Runner,
		deadletter: cfg.DeadLetter,
		auditor:    cfg.Auditor,
		logger:     cfg.Logger.With("component", "exec_worker"),
		telemetry:  cfg.Telemetry,
		retry:      defaultRetryPolicy(),
		now:        time.Now,
		heartbeat:  cfg.Heartbeat,
		lease:      cfg.Lease,
	}
}

// Run drains the execution channel until ctx is cancelled.
func (w *ExecWorker) Run(ctx context.Context, wait time.Duration) error {
	return runLoop(ctx, w.execCh, wait, w.logger, w.Process)
}

// Process handles one leased execution message end to end.
func (w *ExecWorker) Process(ctx context.Context, msg *channel.Message) error {
	env, err := contracts.DecodeEnvelope(msg.Body)
	if err != nil {
		return w.reject(ctx, msg, fmt.Sprintf("invalid envelope: %v", err))
	}
	ctx, done := w.telemetry.TrackStage(ctx, contracts.StageExec.String(), env.TaskID)
	err = w.process(ctx, msg, env)
	done(err)
	return err
}

func (w *ExecWorker) process(ctx context.Context, msg *channel.Message, env contracts.TaskEnvelope) error {
	if env.Stage != contracts.StageExec {
		return w.reject(ctx, msg, fmt.Sprintf("stage %s on execution channel", env.Stage))
	}

	key := artifacts.ExecKey(env.TaskID)

	// Redelivery after the execution was already recorded: just ack.
	exists, err := w.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check execution for task %s: %w", env.TaskID, err)
	}
	if exists {
		w.logger.Info("execution already recorded, acking duplicate",
			"task_id", env.TaskID,
			"attempt", msg.Attempt,
		)
		return w.execCh.Ack(ctx, msg.Receipt)
	}

	// The approval artifact is the only thing that authorizes a run. An
	// execution message without an approving artifact is an integrity
	// violation, never something to execute.
	var approval contracts.ApprovalDecision
	if err := w.store.Get(ctx, artifacts.ApprovalKey(env.TaskID), &approval); err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return w.reject(ctx, msg, "execution request without approval artifact")
		}
		return fmt.Errorf("load approval for task %s: %w", env.TaskID, err)
	}
	if !approval.Approved {
		return w.reject(ctx, msg, "execution request for a denied task")
	}

	exec := w.execute(ctx, env, msg.Receipt)

	err = commit(ctx, w.retry, w.logger, commitSteps{
		Artifact: func(ctx context.Context) error {
			err := w.store.Put(ctx, key, exec)
			if errors.Is(err, artifacts.ErrConflict) {
				w.logger.Warn("lost execution write race, keeping existing artifact",
					"task_id", env.TaskID,
				)
				return nil
			}
			return err
		},
		Ack: func(ctx context.Context) error {
			return w.execCh.Ack(ctx, msg.Receipt)
		},
	})
	if err != nil {
		return fmt.Errorf("record execution for task %s: %w", env.TaskID, err)
	}

	if err := w.auditor.Record(env, audit.EventExecuted, map[string]any{
		"status": string(exec.Status),
	}); err != nil {
		w.logger.Warn("audit record failed", "task_id", env.TaskID, "error", err)
	}
	w.logger.Info("task executed",
		"trace_id", env.TraceID,
		"task_id", env.TaskID,
		"status", exec.Status,
	)
	return nil
}

// execute runs policy pre-flight and the runner, holding the inbound lease
// alive for the duration. The returned record is terminal either way.
func (w *ExecWorker) execute(ctx context.Context, env contracts.TaskEnvelope, receipt string) contracts.Execution {
	exec := contracts.Execution{
		TraceID:   env.TraceID,
		TaskID:    env.TaskID,
		WrittenAt: w.now().UTC(),
	}

	var eval contracts.Evaluation
	if err := w.store.Get(ctx, artifacts.EvalKey(env.TaskID), &eval); err != nil {
		exec.Status = contracts.ExecFailure
		exec.Result = fmt.Sprintf("pre-flight: load evaluation: %v", err)
		return exec
	}
	if d := w.engines.Evaluate(ctx, policy.Input{
		Action:    env.Payload.Action,
		Scores:    eval.Scores,
		Aggregate: eval.AggregateScore,
	}); !d.Allow {
		exec.Status = contracts.ExecFailure
		exec.Result = "pre-flight: policy denied: " + d.Reason
		return exec
	}

	result, err := w.runWithHeartbeat(ctx, env, receipt)
	if err != nil {
		exec.Status = contracts.ExecFailure
		exec.Result = err.Error()
		return exec
	}
	exec.Status = contracts.ExecSuccess
	exec.Result = result
	return exec
}

// runWithHeartbeat invokes the runner while periodically extending the
// inbound lease so long-running work is not redelivered mid-flight.
func (w *ExecWorker) runWithHeartbeat(ctx context.Context, env contracts.TaskEnvelope, receipt string) (string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := w.execCh.Extend(runCtx, receipt, w.lease); err != nil {
					w.logger.Warn("lease extension failed",
						"task_id", env.TaskID,
						"error", err,
					)
				}
			}
		}
	}()

	return w.runner.Run(runCtx, env)
}

func (w *ExecWorker) reject(ctx context.Context, msg *channel.Message, reason string) error {
	if err := w.deadletter.Route(ctx, msg, reason); err != nil {
		return fmt.Errorf("dead-letter message %s: %w", msg.ID, err)
	}
	if err := w.execCh.Ack(ctx, msg.Receipt); err != nil {
		return fmt.Errorf("ack dead-lettered message %s: %w", msg.ID, err)
	}
	w.telemetry.RecordDeadLetter(ctx, contracts.StageExec.String())
	return nil
}
