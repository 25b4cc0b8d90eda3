package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/tollgate-labs/tollgate/pkg/audit"
)

// EventSink receives lifecycle events drained from an audit stream.
type EventSink interface {
	Forward(e audit.Event) error
}

// SlogSink forwards lifecycle events to structured logging, keyed by trace.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Forward(e audit.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("lifecycle event",
		"trace_id", e.TraceID,
		"task_id", e.TaskID,
		"stage", e.Stage,
		"type", string(e.Type),
		"at", e.Timestamp,
	)
	return nil
}

// Drain reads audit events, one JSON object per line, and forwards each to
// the sink. It is read-only with respect to lifecycle state: a sink failure
// stops the drain but never affects any worker. Unparseable lines are
// counted and skipped, not fatal.
func Drain(r io.Reader, sink EventSink) (forwarded, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e audit.Event
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		if err := sink.Forward(e); err != nil {
			return forwarded, skipped, fmt.Errorf("forward event %s: %w", e.ID, err)
		}
		forwarded++
	}
	if err := scanner.Err(); err != nil {
		return forwarded, skipped, fmt.Errorf("drain events: %w", err)
	}
	return forwarded, skipped, nil
}
