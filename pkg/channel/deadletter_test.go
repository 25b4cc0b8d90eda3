package channel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetter_RoutePreservesBody(t *testing.T) {
	ctx := context.Background()
	dlq, _ := newTestChannel()
	router := NewDeadLetter(dlq, nil)

	msg := &Message{ID: "m-1", Attempt: 3, Body: []byte(`{"task_id":"t-1"}`)}
	require.NoError(t, router.Route(ctx, msg, "schema violation"))

	out, err := dlq.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, out)

	var entry DeadLetterEntry
	require.NoError(t, json.Unmarshal(out.Body, &entry))
	assert.Equal(t, "schema violation", entry.Reason)
	assert.Equal(t, 3, entry.Attempt)
	assert.JSONEq(t, `{"task_id":"t-1"}`, string(entry.Body))
}

func TestDeadLetter_RouteNonJSONBody(t *testing.T) {
	ctx := context.Background()
	dlq, _ := newTestChannel()
	router := NewDeadLetter(dlq, nil)

	msg := &Message{ID: "m-2", Attempt: 1, Body: []byte("not json at all")}
	require.NoError(t, router.Route(ctx, msg, "invalid JSON"))

	out, err := dlq.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, out)

	var entry DeadLetterEntry
	require.NoError(t, json.Unmarshal(out.Body, &entry))
	var body string
	require.NoError(t, json.Unmarshal(entry.Body, &body))
	assert.Equal(t, "not json at all", body)
}
