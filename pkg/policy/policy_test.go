package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

func okInput() Input {
	return Input{
		Action:    "deploy",
		Aggregate: 0.82,
		Scores: contracts.Scores{
			Feasibility: 0.8,
			Alignment:   0.9,
			Risk:        0.2,
			Cost:        0.3,
		},
	}
}

func TestStatic_AllowsWithinThresholds(t *testing.T) {
	d := NewStatic().Evaluate(context.Background(), okInput())
	assert.True(t, d.Allow)
}

func TestStatic_DeniesOverRiskCap(t *testing.T) {
	in := okInput()
	in.Scores.Risk = 0.8

	d := NewStatic().Evaluate(context.Background(), in)
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "risk")
}

func TestStatic_DeniesOverCostCap(t *testing.T) {
	in := okInput()
	in.Scores.Cost = 0.5

	d := NewStatic().Evaluate(context.Background(), in)
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "cost")
}

func TestStatic_DeniesUnderFloor(t *testing.T) {
	in := okInput()
	in.Aggregate = 0.4

	d := NewStatic().Evaluate(context.Background(), in)
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "floor")
}

func TestStatic_AutoApprovable(t *testing.T) {
	s := NewStatic()

	in := okInput()
	in.Aggregate = 0.9
	assert.True(t, s.AutoApprovable(context.Background(), in))

	in.Aggregate = 0.82
	assert.False(t, s.AutoApprovable(context.Background(), in))

	// A high aggregate never overrides the caps.
	in.Aggregate = 0.95
	in.Scores.Risk = 0.9
	assert.False(t, s.AutoApprovable(context.Background(), in))
}

func TestCEL_AllowAndDeny(t *testing.T) {
	engine, err := NewCELEngine([]string{
		`aggregate >= 0.6`,
		`scores.risk <= 0.4`,
	})
	require.NoError(t, err)

	d := engine.Evaluate(context.Background(), okInput())
	assert.True(t, d.Allow)

	in := okInput()
	in.Scores.Risk = 0.9
	d = engine.Evaluate(context.Background(), in)
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "rule 1")
}

func TestCEL_FailClosedOnBadRule(t *testing.T) {
	engine, err := NewCELEngine([]string{`this is not CEL ((`})
	require.NoError(t, err)

	d := engine.Evaluate(context.Background(), okInput())
	assert.False(t, d.Allow, "compilation failure must deny")
}

func TestCEL_FailClosedOnNonBoolResult(t *testing.T) {
	engine, err := NewCELEngine([]string{`aggregate + 1.0`})
	require.NoError(t, err)

	d := engine.Evaluate(context.Background(), okInput())
	assert.False(t, d.Allow, "non-boolean result must deny")
}

func TestCEL_CancelledContextDenies(t *testing.T) {
	engine, err := NewCELEngine([]string{`true`})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := engine.Evaluate(ctx, okInput())
	assert.False(t, d.Allow)
}

func TestDecisionHash_Deterministic(t *testing.T) {
	in := okInput()
	d := Decision{Allow: true, Reason: "within thresholds"}

	h1, err := DecisionHash(in, d)
	require.NoError(t, err)
	h2, err := DecisionHash(in, d)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	d.Allow = false
	h3, err := DecisionHash(in, d)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
