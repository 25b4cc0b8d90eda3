// Package channel provides the at-least-once, visibility-timeout-leased
// message transport between lifecycle stages. A message, once leased, is
// owned by one consumer until it is acknowledged or the lease expires, at
// which point it becomes eligible for redelivery to any consumer. The
// channel never guarantees single delivery; workers make redelivery safe
// with artifact-store idempotency checks.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

// ErrUnknownReceipt is returned by Ack/Extend when the receipt does not
// match a currently leased message (typically a lease that already expired
// and was redelivered elsewhere).
var ErrUnknownReceipt = errors.New("unknown or expired receipt")

// Message is a leased message. Body is the raw wire payload; decoding and
// schema validation are the consumer's concern so that malformed messages
// can still be acknowledged and dead-lettered.
type Message struct {
	ID      string // transport message id
	Receipt string // lease receipt, valid until ack or lease expiry
	Body    []byte // raw message body
	Attempt int    // delivery attempt, 1-based
}

// Standard message attribute names, carried out-of-band by backends that
// support attributes (SQS message attributes, Redis stream fields).
const (
	AttrTraceID = "trace_id"
	AttrTaskID  = "task_id"
	AttrStage   = "stage"
)

// Channel is the transport contract. Receive long-polls up to wait and
// returns (nil, nil) when no message is available.
type Channel interface {
	Send(ctx context.Context, body []byte, attrs map[string]string) error
	Receive(ctx context.Context, wait time.Duration) (*Message, error)
	Ack(ctx context.Context, receipt string) error
	Extend(ctx context.Context, receipt string, d time.Duration) error
}

// Publish marshals an envelope and sends it with the standard attributes.
// Construction is pure; the send is the only effect.
func Publish(ctx context.Context, ch Channel, env contracts.TaskEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("publish: marshal envelope: %w", err)
	}
	attrs := map[string]string{
		AttrTraceID: env.TraceID,
		AttrTaskID:  env.TaskID,
		AttrStage:   env.Stage.String(),
	}
	if err := ch.Send(ctx, body, attrs); err != nil {
		return fmt.Errorf("publish %s envelope for task %s: %w", env.Stage, env.TaskID, err)
	}
	return nil
}
