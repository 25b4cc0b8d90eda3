package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// DeadLetterEntry is the record published to a dead-letter channel. The
// original body is preserved verbatim so the message can be inspected and
// replayed by an operator.
type DeadLetterEntry struct {
	Reason     string          `json:"reason"`
	Attempt    int             `json:"attempt"`
	ReceivedAt time.Time       `json:"received_at"`
	Body       json.RawMessage `json:"body"`
}

// DeadLetter routes unprocessable messages to a terminal channel. Routing
// never silently drops: the entry carries the reason and the original body.
type DeadLetter struct {
	ch     Channel
	logger *slog.Logger
}

// NewDeadLetter creates a dead-letter router over ch.
func NewDeadLetter(ch Channel, logger *slog.Logger) *DeadLetter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetter{ch: ch, logger: logger.With("component", "dead_letter")}
}

// Route publishes msg to the dead-letter channel with the given reason.
// The caller acknowledges the original message only after Route succeeds.
func (d *DeadLetter) Route(ctx context.Context, msg *Message, reason string) error {
	entry := DeadLetterEntry{
		Reason:     reason,
		Attempt:    msg.Attempt,
		ReceivedAt: time.Now().UTC(),
		Body:       json.RawMessage(msg.Body),
	}
	if !json.Valid(msg.Body) {
		// Preserve non-JSON bodies as a JSON string.
		quoted, err := json.Marshal(string(msg.Body))
		if err != nil {
			return fmt.Errorf("dead-letter: encode body: %w", err)
		}
		entry.Body = quoted
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("dead-letter: marshal entry: %w", err)
	}
	if err := d.ch.Send(ctx, body, map[string]string{"reason": reason}); err != nil {
		return fmt.Errorf("dead-letter: send: %w", err)
	}

	d.logger.Error("message dead-lettered",
		"message_id", msg.ID,
		"attempt", msg.Attempt,
		"reason", reason,
	)
	return nil
}
