package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tollgate-labs/tollgate/pkg/artifacts"
)

func instantRetry(attempts int) (retryPolicy, *[]time.Duration) {
	var slept []time.Duration
	return retryPolicy{
		attempts: attempts,
		base:     time.Second,
		cap:      30 * time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}, &slept
}

func TestCommit_RunsStepsInOrder(t *testing.T) {
	var order []string
	step := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	policy, _ := instantRetry(3)
	err := commit(context.Background(), policy, slog.Default(), commitSteps{
		Artifact: step("artifact"),
		Publish:  step("publish"),
		Ack:      step("ack"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"artifact", "publish", "ack"}, order)
}

func TestCommit_ArtifactFailureBlocksLaterSteps(t *testing.T) {
	var published, acked bool

	policy, _ := instantRetry(2)
	err := commit(context.Background(), policy, slog.Default(), commitSteps{
		Artifact: func(context.Context) error { return errors.New("store down") },
		Publish: func(context.Context) error {
			published = true
			return nil
		},
		Ack: func(context.Context) error {
			acked = true
			return nil
		},
	})
	require.Error(t, err)
	assert.False(t, published, "publish must not run after artifact failure")
	assert.False(t, acked, "ack must not run after artifact failure")
}

func TestCommit_PublishFailureBlocksAck(t *testing.T) {
	var acked bool

	policy, _ := instantRetry(2)
	err := commit(context.Background(), policy, slog.Default(), commitSteps{
		Artifact: func(context.Context) error { return nil },
		Publish:  func(context.Context) error { return errors.New("queue down") },
		Ack: func(context.Context) error {
			acked = true
			return nil
		},
	})
	require.Error(t, err)
	assert.False(t, acked, "ack must not run after publish failure")
}

func TestCommit_RetriesWithExponentialBackoff(t *testing.T) {
	calls := 0
	policy, slept := instantRetry(4)

	err := commit(context.Background(), policy, slog.Default(), commitSteps{
		Artifact: func(context.Context) error {
			calls++
			if calls < 4 {
				return errors.New("transient")
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *slept)
}

func TestCommit_BackoffCapped(t *testing.T) {
	policy, slept := instantRetry(8)

	err := commit(context.Background(), policy, slog.Default(), commitSteps{
		Artifact: func(context.Context) error { return errors.New("always") },
	})
	require.Error(t, err)
	last := (*slept)[len(*slept)-1]
	assert.Equal(t, 30*time.Second, last)
}

func TestCommit_ConflictIsNotRetried(t *testing.T) {
	calls := 0
	policy, slept := instantRetry(5)

	err := commit(context.Background(), policy, slog.Default(), commitSteps{
		Artifact: func(context.Context) error {
			calls++
			return artifacts.ErrConflict
		},
	})
	assert.ErrorIs(t, err, artifacts.ErrConflict)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestCommit_CancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := retryPolicy{
		attempts: 5,
		base:     time.Second,
		cap:      30 * time.Second,
		sleep:    sleepCtx,
	}
	err := commit(ctx, policy, slog.Default(), commitSteps{
		Artifact: func(context.Context) error { return errors.New("transient") },
	})
	assert.ErrorIs(t, err, context.Canceled)
}
