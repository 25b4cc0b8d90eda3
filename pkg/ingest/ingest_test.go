package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tollgate-labs/tollgate/pkg/contracts"
)

const sampleLog = `
2026-03-01T12:00:01Z INFO  api started
2026-03-01T12:00:05Z WARN  connection pool near limit
2026-03-01T12:00:07Z ERROR upstream timeout on /v1/tasks
2026-03-01T12:00:08Z ERROR upstream timeout on /v1/tasks
2026-03-01T12:00:09Z INFO  request served
`

func TestScanner_GroupsByLevel(t *testing.T) {
	s := NewScanner()

	out, err := s.Scan(strings.NewReader(sampleLog))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "error burst in logs", out[0].Title)
	assert.Equal(t, "medium", out[0].Severity)
	assert.Contains(t, out[0].Description, "2 ERROR line(s)")
	assert.Contains(t, out[0].Description, "upstream timeout")

	assert.Equal(t, "warnings accumulating in logs", out[1].Title)
	assert.Equal(t, "low", out[1].Severity)
}

func TestScanner_BurstEscalatesSeverity(t *testing.T) {
	s := NewScanner()

	logs := strings.Repeat("ERROR something broke\n", 5)
	out, err := s.Scan(strings.NewReader(logs))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0].Severity)
}

func TestScanner_FatalAlwaysHigh(t *testing.T) {
	s := NewScanner()

	out, err := s.Scan(strings.NewReader("FATAL panic in worker\n"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0].Severity)
	assert.Equal(t, "fatal failures in logs", out[0].Title)
}

func TestScanner_Deterministic(t *testing.T) {
	s := NewScanner()

	a, err := s.Scan(strings.NewReader(sampleLog))
	require.NoError(t, err)
	b, err := s.Scan(strings.NewReader(sampleLog))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestScanner_CleanLogsYieldNothing(t *testing.T) {
	s := NewScanner()

	out, err := s.Scan(strings.NewReader("INFO all good\nINFO still good\n"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

type fakeSubmitter struct {
	payloads []contracts.Payload
}

func (f *fakeSubmitter) Submit(_ context.Context, p contracts.Payload) (contracts.TaskEnvelope, error) {
	f.payloads = append(f.payloads, p)
	return contracts.NewEnvelope(contracts.NewTraceContext(), contracts.NewTaskID(), p, time.Now()), nil
}

func TestWorker_SubmitsObservations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))

	sub := &fakeSubmitter{}
	w := NewWorker(sub, path, nil)

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sub.payloads, 2)

	for _, p := range sub.payloads {
		assert.Equal(t, "observation", p.Action)
		assert.NotEmpty(t, p.Params["title"])
		assert.NotEmpty(t, p.Params["recommended_action"])
	}
	assert.Equal(t, "low", sub.payloads[1].Params["risk_hint"])
}

func TestWorker_MissingFileIsNotAnError(t *testing.T) {
	sub := &fakeSubmitter{}
	w := NewWorker(sub, filepath.Join(t.TempDir(), "absent.log"), nil)

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sub.payloads)
}
