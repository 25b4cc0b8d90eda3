package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKey_Deterministic(t *testing.T) {
	k1 := DedupKey("task-1", StageEval)
	k2 := DedupKey("task-1", StageEval)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestDedupKey_VariesByStageAndTask(t *testing.T) {
	base := DedupKey("task-1", StageEval)
	assert.NotEqual(t, base, DedupKey("task-1", StageApproval))
	assert.NotEqual(t, base, DedupKey("task-2", StageEval))
}

func TestNewEnvelope(t *testing.T) {
	tc := NewTraceContext()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvelope(tc, "task-1", Payload{Action: "deploy"}, now)

	require.NoError(t, env.Validate())
	assert.Equal(t, StageEval, env.Stage)
	assert.Equal(t, tc.TraceID, env.TraceID)
	assert.Equal(t, DedupKey("task-1", StageEval), env.DedupKey)
	assert.Equal(t, now, env.CreatedAt)
}

func TestAdvance_PreservesIdentity(t *testing.T) {
	tc := NewTraceContext()
	now := time.Now()
	env := NewEnvelope(tc, "task-1", Payload{Action: "deploy"}, now)

	next := env.Advance(StageApproval, "eval/task-1.json", now.Add(time.Second))

	require.NoError(t, next.Validate())
	assert.Equal(t, env.TraceID, next.TraceID)
	assert.Equal(t, env.TaskID, next.TaskID)
	assert.Equal(t, StageApproval, next.Stage)
	assert.Equal(t, "eval/task-1.json", next.EvalRef)
	assert.Equal(t, DedupKey("task-1", StageApproval), next.DedupKey)
	// Original untouched.
	assert.Equal(t, StageEval, env.Stage)
}

func TestValidate_RejectsTamperedDedupKey(t *testing.T) {
	env := NewEnvelope(NewTraceContext(), "task-1", Payload{Action: "deploy"}, time.Now())
	env.DedupKey = "forged"
	assert.Error(t, env.Validate())
}

func TestDecodeEnvelope_RoundTrip(t *testing.T) {
	env := NewEnvelope(NewTraceContext(), "task-1", Payload{
		Action: "deploy",
		Params: map[string]any{"risk_hint": "low"},
	}, time.Now())
	body, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, env.TaskID, got.TaskID)
	assert.Equal(t, "low", got.Payload.StringParam("risk_hint"))
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"trace_id": `,
		"missing fields":  `{"trace_id": "t"}`,
		"bad stage":       `{"trace_id":"t","task_id":"x","stage":"LAUNCH","dedup_key":"k","payload":{"action":"deploy"},"created_at":"2026-03-01T00:00:00Z"}`,
		"missing action":  `{"trace_id":"t","task_id":"x","stage":"EVAL","dedup_key":"k","payload":{},"created_at":"2026-03-01T00:00:00Z"}`,
		"payload not obj": `{"trace_id":"t","task_id":"x","stage":"EVAL","dedup_key":"k","payload":"raw","created_at":"2026-03-01T00:00:00Z"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(body))
			assert.Error(t, err)
		})
	}
}
