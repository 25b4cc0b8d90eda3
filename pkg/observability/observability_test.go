package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	// With telemetry off every recording path must be a safe no-op.
	ctx, done := p.TrackStage(context.Background(), "EVAL", "task-1")
	assert.NotNil(t, ctx)
	done(errors.New("boom"))

	p.RecordDeadLetter(context.Background(), "EVAL")
	p.PendingDelta(context.Background(), 1)

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "tollgate", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
}
