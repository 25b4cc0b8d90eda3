package ingest

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tollgate-labs/tollgate/pkg/audit"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

type captureSink struct {
	events []audit.Event
	fail   error
}

func (c *captureSink) Forward(e audit.Event) error {
	if c.fail != nil {
		return c.fail
	}
	c.events = append(c.events, e)
	return nil
}

func auditStream(t *testing.T, types ...audit.EventType) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)
	env := contracts.NewEnvelope(contracts.NewTraceContext(), "task-1",
		contracts.Payload{Action: "deploy"}, time.Now())
	for _, typ := range types {
		require.NoError(t, logger.Record(env, typ, nil))
	}
	return &buf
}

func TestDrain_ForwardsEvents(t *testing.T) {
	buf := auditStream(t, audit.EventSubmitted, audit.EventEvaluated, audit.EventDecided)

	sink := &captureSink{}
	forwarded, skipped, err := Drain(buf, sink)
	require.NoError(t, err)
	assert.Equal(t, 3, forwarded)
	assert.Zero(t, skipped)

	require.Len(t, sink.events, 3)
	assert.Equal(t, audit.EventSubmitted, sink.events[0].Type)
	assert.Equal(t, "task-1", sink.events[0].TaskID)
	assert.Equal(t, sink.events[0].TraceID, sink.events[2].TraceID)
}

func TestDrain_SkipsGarbageLines(t *testing.T) {
	buf := auditStream(t, audit.EventSubmitted)
	buf.WriteString("not json\n")

	sink := &captureSink{}
	forwarded, skipped, err := Drain(buf, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, forwarded)
	assert.Equal(t, 1, skipped)
}

func TestDrain_SinkFailureStopsDrain(t *testing.T) {
	buf := auditStream(t, audit.EventSubmitted, audit.EventEvaluated)

	sink := &captureSink{fail: errors.New("sink down")}
	forwarded, _, err := Drain(buf, sink)
	assert.Error(t, err)
	assert.Zero(t, forwarded)
}

func TestDrain_EmptyInput(t *testing.T) {
	forwarded, skipped, err := Drain(strings.NewReader(""), &captureSink{})
	require.NoError(t, err)
	assert.Zero(t, forwarded)
	assert.Zero(t, skipped)
}
