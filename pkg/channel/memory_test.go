package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

// fakeClock is a manually advanced clock for lease-expiry tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestChannel(opts ...MemoryOption) (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]MemoryOption{WithClock(clock.Now)}, opts...)
	return NewMemory(opts...), clock
}

func TestMemory_SendReceiveAck(t *testing.T) {
	ctx := context.Background()
	ch, _ := newTestChannel()

	require.NoError(t, ch.Send(ctx, []byte(`{"n":1}`), nil))

	msg, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, `{"n":1}`, string(msg.Body))
	assert.Equal(t, 1, msg.Attempt)

	require.NoError(t, ch.Ack(ctx, msg.Receipt))
	assert.Equal(t, 0, ch.Len())
}

func TestMemory_LeasedMessageIsInvisible(t *testing.T) {
	ctx := context.Background()
	ch, _ := newTestChannel()

	require.NoError(t, ch.Send(ctx, []byte(`{}`), nil))

	first, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Still leased: nothing to receive.
	second, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestMemory_LeaseExpiryRedelivers(t *testing.T) {
	ctx := context.Background()
	ch, clock := newTestChannel(WithVisibility(30 * time.Second))

	require.NoError(t, ch.Send(ctx, []byte(`{}`), nil))

	first, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, first)

	clock.Advance(31 * time.Second)

	second, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempt)
	assert.NotEqual(t, first.Receipt, second.Receipt)

	// The stale receipt is no longer honored.
	assert.ErrorIs(t, ch.Ack(ctx, first.Receipt), ErrUnknownReceipt)
	// The fresh one is.
	assert.NoError(t, ch.Ack(ctx, second.Receipt))
}

func TestMemory_ExtendKeepsLease(t *testing.T) {
	ctx := context.Background()
	ch, clock := newTestChannel(WithVisibility(30 * time.Second))

	require.NoError(t, ch.Send(ctx, []byte(`{}`), nil))
	msg, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)

	clock.Advance(25 * time.Second)
	require.NoError(t, ch.Extend(ctx, msg.Receipt, 60*time.Second))

	clock.Advance(35 * time.Second)
	redelivered, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, redelivered, "extended lease should still be held")

	require.NoError(t, ch.Ack(ctx, msg.Receipt))
}

func TestMemory_MaxAttemptsDeadLetters(t *testing.T) {
	ctx := context.Background()
	dlq, _ := newTestChannel()
	ch, clock := newTestChannel(
		WithVisibility(10*time.Second),
		WithMaxAttempts(2),
		WithDeadLetter(dlq),
	)
	// Share the clock between main channel and DLQ scan.
	require.NoError(t, ch.Send(ctx, []byte(`{"poison":true}`), nil))

	for i := 0; i < 2; i++ {
		msg, err := ch.Receive(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, msg, "attempt %d", i+1)
		clock.Advance(11 * time.Second) // let the lease lapse, never ack
	}

	// Third delivery attempt exceeds the bound: redirected, not leased.
	msg, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, 0, ch.Len())
	assert.Equal(t, 1, dlq.Len())
}

func TestMemory_DeadLetterDoesNotShadowNextMessage(t *testing.T) {
	ctx := context.Background()
	dlq, _ := newTestChannel()
	ch, clock := newTestChannel(
		WithVisibility(10*time.Second),
		WithMaxAttempts(1),
		WithDeadLetter(dlq),
	)

	// Two messages burn their single delivery attempt without an ack.
	require.NoError(t, ch.Send(ctx, []byte(`{"n":1}`), nil))
	require.NoError(t, ch.Send(ctx, []byte(`{"n":2}`), nil))
	for i := 0; i < 2; i++ {
		msg, err := ch.Receive(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, msg)
	}
	clock.Advance(11 * time.Second)

	require.NoError(t, ch.Send(ctx, []byte(`{"n":3}`), nil))

	// One scan must redirect both exhausted messages and still lease the
	// live one behind them.
	msg, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, msg, "live message must not be shadowed by dead-letter removal")
	assert.Equal(t, `{"n":3}`, string(msg.Body))
	assert.Equal(t, 2, dlq.Len())
	assert.Equal(t, 1, ch.Len())
}

func TestPublish_CarriesStandardAttributes(t *testing.T) {
	ctx := context.Background()
	ch, _ := newTestChannel()

	env := contracts.NewEnvelope(contracts.NewTraceContext(), "task-1",
		contracts.Payload{Action: "deploy"}, time.Now())
	require.NoError(t, Publish(ctx, ch, env))

	msg, err := ch.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)

	decoded, err := contracts.DecodeEnvelope(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, env.TaskID, decoded.TaskID)
	assert.Equal(t, env.TraceID, decoded.TraceID)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	// Message is leased but still held; check its attributes.
	require.Len(t, ch.items, 1)
	assert.Equal(t, env.TraceID, ch.items[0].attrs[AttrTraceID])
	assert.Equal(t, env.Stage.String(), ch.items[0].attrs[AttrStage])
}
