package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tollgate-labs/tollgate/pkg/channel"
)

// defaultPollWait is how long a worker's Receive blocks before re-checking
// for shutdown.
const defaultPollWait = 5 * time.Second

// runLoop drains ch until ctx is cancelled, handing each leased message to
// handler. Handler errors leave the message unacked so the lease expiry
// redelivers it; the loop itself never stops on a handler error.
func runLoop(ctx context.Context, ch channel.Channel, wait time.Duration, logger *slog.Logger, handler func(context.Context, *channel.Message) error) error {
	if wait <= 0 {
		wait = defaultPollWait
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := ch.Receive(ctx, wait)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Error("receive failed", "error", err)
			if err := sleepCtx(ctx, time.Second); err != nil {
				return err
			}
			continue
		}
		if msg == nil {
			continue
		}
		if err := handler(ctx, msg); err != nil {
			logger.Error("message handling failed, leaving for redelivery",
				"message_id", msg.ID,
				"attempt", msg.Attempt,
				"error", err,
			)
		}
	}
}
