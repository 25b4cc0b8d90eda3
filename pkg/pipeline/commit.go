// Package pipeline contains the lifecycle workers: the producer that admits
// tasks, the evaluation worker, the approval gate and the execution worker.
// All of them commit their work through one shared helper that fixes the
// ordering every stage must follow: write the artifact, then publish
// downstream, then acknowledge the inbound message. Losing a worker between
// any two steps leaves the system redeliverable, never inconsistent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tollgate-labs/tollgate/pkg/artifacts"
)

// retryPolicy bounds the per-step retries inside a commit. Steps are retried
// with exponential backoff; a step that keeps failing aborts the commit and
// leaves the inbound message unacked for redelivery.
type retryPolicy struct {
	attempts int
	base     time.Duration
	cap      time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		attempts: 5,
		base:     time.Second,
		cap:      30 * time.Second,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p retryPolicy) run(ctx context.Context, name string, logger *slog.Logger, fn func(context.Context) error) error {
	delay := p.base
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		// Write-once conflicts are protocol violations, not transient
		// faults; retrying cannot resolve them.
		if errors.Is(lastErr, artifacts.ErrConflict) {
			return lastErr
		}
		if attempt == p.attempts {
			break
		}
		logger.Warn("commit step failed, retrying",
			"step", name,
			"attempt", attempt,
			"error", lastErr,
		)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > p.cap {
			delay = p.cap
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", name, lastErr)
}

// commitSteps is one stage transition. Artifact and Publish may be nil when
// the stage has nothing durable to write or nothing downstream to notify.
type commitSteps struct {
	Artifact func(context.Context) error
	Publish  func(context.Context) error
	Ack      func(context.Context) error
}

// commit runs the steps strictly in artifact → publish → ack order. A
// failure in an earlier step prevents all later steps from running.
func commit(ctx context.Context, policy retryPolicy, logger *slog.Logger, steps commitSteps) error {
	if steps.Artifact != nil {
		if err := policy.run(ctx, "write artifact", logger, steps.Artifact); err != nil {
			return err
		}
	}
	if steps.Publish != nil {
		if err := policy.run(ctx, "publish downstream", logger, steps.Publish); err != nil {
			return err
		}
	}
	if steps.Ack != nil {
		if err := policy.run(ctx, "ack inbound", logger, steps.Ack); err != nil {
			return err
		}
	}
	return nil
}
