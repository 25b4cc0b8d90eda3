package pipeline

import "context"

// Telemetry is the observability surface the workers report into: one
// tracked span per processed message, a counter for dead-lettered messages
// and a gauge of approvals awaiting a decision. *observability.Provider
// satisfies it; workers without telemetry fall back to nopTelemetry.
type Telemetry interface {
	TrackStage(ctx context.Context, stage, taskID string) (context.Context, func(error))
	RecordDeadLetter(ctx context.Context, stage string)
	PendingDelta(ctx context.Context, delta int64)
}

type nopTelemetry struct{}

func (nopTelemetry) TrackStage(ctx context.Context, _, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (nopTelemetry) RecordDeadLetter(context.Context, string) {}

func (nopTelemetry) PendingDelta(context.Context, int64) {}
