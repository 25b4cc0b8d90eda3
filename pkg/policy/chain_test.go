package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_EmptyDenies(t *testing.T) {
	d := Chain{}.Evaluate(context.Background(), okInput())
	assert.False(t, d.Allow)
}

func TestChain_FirstDenyWins(t *testing.T) {
	cel, err := NewCELEngine([]string{`action == "deploy"`})
	require.NoError(t, err)

	chain := Chain{NewStatic(), cel}

	d := chain.Evaluate(context.Background(), okInput())
	assert.True(t, d.Allow)

	in := okInput()
	in.Action = "analysis"
	d = chain.Evaluate(context.Background(), in)
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "rule 0")
}
