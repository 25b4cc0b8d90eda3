package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tollgate-labs/tollgate/pkg/artifacts"
	"github.com/tollgate-labs/tollgate/pkg/audit"
	"github.com/tollgate-labs/tollgate/pkg/channel"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
	"github.com/tollgate-labs/tollgate/pkg/policy"
)

// ErrUnknownTask is returned by Decide when no approval is pending for the
// task.
var ErrUnknownTask = errors.New("no pending approval for task")

// SystemApprover is recorded as the approver on decisions the gate makes
// itself (auto-approval, timeout expiry).
const SystemApprover = "system"

// PendingApproval is one task awaiting a decision.
type PendingApproval struct {
	Envelope   contracts.TaskEnvelope
	Evaluation contracts.Evaluation
	ReceivedAt time.Time
}

type pendingTask struct {
	env        contracts.TaskEnvelope
	eval       contracts.Evaluation
	receipt    string
	receivedAt time.Time
}

// Gate owns the approval stage. It consumes approval requests, holds them
// pending while a human decides, and converts each decision into the
// write-once approval artifact plus, on approval, the execution envelope.
//
// Policy bounds what a human can allow: an approval that the policy engines
// deny is recorded as a deny. The gate also decides by itself in two cases:
// tasks scoring above the auto-execute threshold, and tasks whose approval
// window elapses, which are denied.
type Gate struct {
	approvalCh channel.Channel
	execCh     channel.Channel
	store      artifacts.Store
	engines    policy.Engine
	auto       *policy.Static
	deadletter *channel.DeadLetter
	auditor    audit.Logger
	logger     *slog.Logger
	telemetry  Telemetry
	retry      retryPolicy
	now        func() time.Time
	timeout    time.Duration
	lease      time.Duration

	mu      sync.Mutex
	pending map[string]*pendingTask
}

// GateConfig wires a Gate.
type GateConfig struct {
	ApprovalChannel channel.Channel
	ExecChannel     channel.Channel
	Store           artifacts.Store
	Engines         policy.Engine  // required; fail-closed bound on approvals
	Auto            *policy.Static // optional auto-approve thresholds
	DeadLetter      *channel.DeadLetter
	Auditor         audit.Logger
	Logger          *slog.Logger
	Telemetry       Telemetry     // optional; nil means no instrumentation
	Timeout         time.Duration // pending window; 0 disables expiry
	Lease           time.Duration // lease extension granted while pending
}

// NewGate creates an approval gate.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Auditor == nil {
		cfg.Auditor = audit.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = nopTelemetry{}
	}
	return &Gate{
		approvalCh: cfg.ApprovalChannel,
		execCh:     cfg.ExecChannel,
		store:      cfg.Store,
		engines:    cfg.Engines,
		auto:       cfg.Auto,
		deadletter: cfg.DeadLetter,
		auditor:    cfg.Auditor,
		logger:     cfg.Logger.With("component", "approval_gate"),
		telemetry:  cfg.Telemetry,
		retry:      defaultRetryPolicy(),
		now:        time.Now,
		timeout:    cfg.Timeout,
		lease:      cfg.Lease,
		pending:    make(map[string]*pendingTask),
	}
}

// Run drains the approval channel until ctx is cancelled, expiring and
// re-leasing pending tasks between receives.
func (g *Gate) Run(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		wait = defaultPollWait
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.ExpirePending(ctx); err != nil {
			g.logger.Error("expiry sweep failed", "error", err)
		}
		g.extendLeases(ctx)

		msg, err := g.approvalCh.Receive(ctx, wait)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			g.logger.Error("receive failed", "error", err)
			if err := sleepCtx(ctx, time.Second); err != nil {
				return err
			}
			continue
		}
		if msg == nil {
			continue
		}
		if err := g.Register(ctx, msg); err != nil {
			g.logger.Error("approval registration failed, leaving for redelivery",
				"message_id", msg.ID,
				"error", err,
			)
		}
	}
}

// Register admits one approval-stage message: redeliveries of already
// decided tasks are finalized immediately, auto-approvable tasks are decided
// by the gate, everything else is parked pending a human decision.
func (g *Gate) Register(ctx context.Context, msg *channel.Message) error {
	env, err := contracts.DecodeEnvelope(msg.Body)
	if err != nil {
		return g.reject(ctx, msg, fmt.Sprintf("invalid envelope: %v", err))
	}
	ctx, done := g.telemetry.TrackStage(ctx, contracts.StageApproval.String(), env.TaskID)
	err = g.register(ctx, msg, env)
	done(err)
	return err
}

func (g *Gate) register(ctx context.Context, msg *channel.Message, env contracts.TaskEnvelope) error {
	if env.Stage != contracts.StageApproval {
		return g.reject(ctx, msg, fmt.Sprintf("stage %s on approval channel", env.Stage))
	}

	// Redelivery of a task that was already decided: replay the outcome.
	var decision contracts.ApprovalDecision
	err := g.store.Get(ctx, artifacts.ApprovalKey(env.TaskID), &decision)
	if err == nil {
		return g.finalize(ctx, env, decision, msg.Receipt)
	}
	if !errors.Is(err, artifacts.ErrNotFound) {
		return fmt.Errorf("load approval for task %s: %w", env.TaskID, err)
	}

	// The approval request is published only after the evaluation artifact
	// is written, so a missing evaluation is an integrity violation.
	var eval contracts.Evaluation
	if err := g.store.Get(ctx, artifacts.EvalKey(env.TaskID), &eval); err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return g.reject(ctx, msg, "approval request without evaluation artifact")
		}
		return fmt.Errorf("load evaluation for task %s: %w", env.TaskID, err)
	}

	task := &pendingTask{
		env:        env,
		eval:       eval,
		receipt:    msg.Receipt,
		receivedAt: g.now(),
	}
	g.mu.Lock()
	g.pending[env.TaskID] = task
	g.mu.Unlock()
	g.telemetry.PendingDelta(ctx, 1)

	if g.auto != nil && g.auto.AutoApprovable(ctx, g.policyInput(task, SystemApprover)) {
		_, err := g.Decide(ctx, env.TaskID, SystemApprover, true, "auto-approved above execute threshold")
		return err
	}

	if err := g.auditor.Record(env, audit.EventPending, map[string]any{
		"aggregate":     eval.AggregateScore,
		"decision_hint": eval.DecisionHint,
	}); err != nil {
		g.logger.Warn("audit record failed", "task_id", env.TaskID, "error", err)
	}
	g.logger.Info("approval pending",
		"trace_id", env.TraceID,
		"task_id", env.TaskID,
		"decision_hint", eval.DecisionHint,
	)
	return nil
}

// Pending lists tasks currently awaiting a decision, oldest first.
func (g *Gate) Pending() []PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingApproval, 0, len(g.pending))
	for _, t := range g.pending {
		out = append(out, PendingApproval{
			Envelope:   t.env,
			Evaluation: t.eval,
			ReceivedAt: t.receivedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// Decide records the decision for a pending task. The human verdict is
// bounded by policy: an approve the engines deny is recorded as a deny. The
// returned decision is what was actually recorded, which on a redelivery
// race may be an earlier, equivalent record.
func (g *Gate) Decide(ctx context.Context, taskID, approver string, approved bool, reason string) (contracts.ApprovalDecision, error) {
	g.mu.Lock()
	task, ok := g.pending[taskID]
	g.mu.Unlock()
	if !ok {
		// Duplicate submission for an already-decided task returns the
		// recorded decision instead of re-deciding.
		var existing contracts.ApprovalDecision
		err := g.store.Get(ctx, artifacts.ApprovalKey(taskID), &existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, artifacts.ErrNotFound) {
			return contracts.ApprovalDecision{}, fmt.Errorf("load approval for task %s: %w", taskID, err)
		}
		return contracts.ApprovalDecision{}, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	decision := contracts.ApprovalDecision{
		TraceID:   task.env.TraceID,
		TaskID:    taskID,
		Approved:  approved,
		Approver:  approver,
		Reason:    reason,
		DecidedAt: g.now().UTC(),
	}
	if approved {
		if d := g.engines.Evaluate(ctx, g.policyInput(task, approver)); !d.Allow {
			decision.Approved = false
			decision.Reason = "policy denied: " + d.Reason
		}
	}

	key := artifacts.ApprovalKey(taskID)
	next := task.env.Advance(contracts.StageExec, task.env.EvalRef, g.now())
	err := commit(ctx, g.retry, g.logger, commitSteps{
		Artifact: func(ctx context.Context) error {
			err := g.store.Put(ctx, key, decision)
			if errors.Is(err, artifacts.ErrConflict) {
				// A concurrent decision won; adopt it.
				if getErr := g.store.Get(ctx, key, &decision); getErr != nil {
					return fmt.Errorf("adopt concurrent decision: %w", getErr)
				}
				return nil
			}
			return err
		},
		Publish: func(ctx context.Context) error {
			if !decision.Approved {
				return nil
			}
			return channel.Publish(ctx, g.execCh, next)
		},
		Ack: func(ctx context.Context) error {
			return g.approvalCh.Ack(ctx, task.receipt)
		},
	})
	if err != nil {
		return contracts.ApprovalDecision{}, fmt.Errorf("decide task %s: %w", taskID, err)
	}

	g.mu.Lock()
	delete(g.pending, taskID)
	g.mu.Unlock()
	g.telemetry.PendingDelta(ctx, -1)

	if err := g.auditor.Record(task.env, audit.EventDecided, map[string]any{
		"approved": decision.Approved,
		"approver": decision.Approver,
		"reason":   decision.Reason,
	}); err != nil {
		g.logger.Warn("audit record failed", "task_id", taskID, "error", err)
	}
	g.logger.Info("approval decided",
		"trace_id", task.env.TraceID,
		"task_id", taskID,
		"approved", decision.Approved,
		"approver", decision.Approver,
	)
	return decision, nil
}

// ExpirePending denies every pending task whose approval window has
// elapsed. A zero timeout disables expiry.
func (g *Gate) ExpirePending(ctx context.Context) error {
	if g.timeout <= 0 {
		return nil
	}
	cutoff := g.now().Add(-g.timeout)

	g.mu.Lock()
	var expired []string
	for id, t := range g.pending {
		if t.receivedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	g.mu.Unlock()

	for _, id := range expired {
		if _, err := g.Decide(ctx, id, SystemApprover, false, "approval window elapsed"); err != nil {
			return fmt.Errorf("expire task %s: %w", id, err)
		}
	}
	return nil
}

// finalize replays an already recorded decision for a redelivered approval
// message. Execution-side idempotency absorbs the duplicate publish.
func (g *Gate) finalize(ctx context.Context, env contracts.TaskEnvelope, decision contracts.ApprovalDecision, receipt string) error {
	next := env.Advance(contracts.StageExec, env.EvalRef, g.now())
	return commit(ctx, g.retry, g.logger, commitSteps{
		Publish: func(ctx context.Context) error {
			if !decision.Approved {
				return nil
			}
			return channel.Publish(ctx, g.execCh, next)
		},
		Ack: func(ctx context.Context) error {
			return g.approvalCh.Ack(ctx, receipt)
		},
	})
}

// extendLeases renews the inbound lease of every pending task so the
// approval message is not redelivered while a human is still deciding.
func (g *Gate) extendLeases(ctx context.Context) {
	g.mu.Lock()
	tasks := make([]*pendingTask, 0, len(g.pending))
	for _, t := range g.pending {
		tasks = append(tasks, t)
	}
	g.mu.Unlock()

	for _, t := range tasks {
		if err := g.approvalCh.Extend(ctx, t.receipt, g.lease); err != nil {
			g.logger.Warn("lease extension failed",
				"task_id", t.env.TaskID,
				"error", err,
			)
		}
	}
}

func (g *Gate) policyInput(t *pendingTask, approver string) policy.Input {
	return policy.Input{
		Action:    t.env.Payload.Action,
		Scores:    t.eval.Scores,
		Aggregate: t.eval.AggregateScore,
		DecidedBy: approver,
	}
}

func (g *Gate) reject(ctx context.Context, msg *channel.Message, reason string) error {
	if err := g.deadletter.Route(ctx, msg, reason); err != nil {
		return fmt.Errorf("dead-letter message %s: %w", msg.ID, err)
	}
	if err := g.approvalCh.Ack(ctx, msg.Receipt); err != nil {
		return fmt.Errorf("ack dead-lettered message %s: %w", msg.ID, err)
	}
	g.telemetry.RecordDeadLetter(ctx, contracts.StageApproval.String())
	return nil
}
