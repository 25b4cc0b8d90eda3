package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.ChannelBackend)
	assert.Equal(t, 30*time.Second, cfg.Visibility)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.ApprovalTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHANNEL_BACKEND", BackendSQS)
	t.Setenv("EVAL_QUEUE", "https://sqs.us-east-1.amazonaws.com/1/eval")
	t.Setenv("APPROVAL_QUEUE", "https://sqs.us-east-1.amazonaws.com/1/approval")
	t.Setenv("EXEC_QUEUE", "https://sqs.us-east-1.amazonaws.com/1/exec")
	t.Setenv("DEAD_LETTER_QUEUE", "https://sqs.us-east-1.amazonaws.com/1/dead")
	t.Setenv("VISIBILITY_TIMEOUT", "2m")
	t.Setenv("MAX_DELIVERY_ATTEMPTS", "3")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendSQS, cfg.ChannelBackend)
	assert.Equal(t, 2*time.Minute, cfg.Visibility)
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestValidate_MissingQueues(t *testing.T) {
	t.Setenv("CHANNEL_BACKEND", BackendRedis)

	cfg := Load()
	assert.Error(t, cfg.Validate())
}

func TestValidate_MissingDeadLetterQueue(t *testing.T) {
	t.Setenv("CHANNEL_BACKEND", BackendSQS)
	t.Setenv("EVAL_QUEUE", "https://sqs.us-east-1.amazonaws.com/1/eval")
	t.Setenv("APPROVAL_QUEUE", "https://sqs.us-east-1.amazonaws.com/1/approval")
	t.Setenv("EXEC_QUEUE", "https://sqs.us-east-1.amazonaws.com/1/exec")

	cfg := Load()
	assert.Error(t, cfg.Validate())
}

func TestValidate_UnknownBackend(t *testing.T) {
	t.Setenv("CHANNEL_BACKEND", "carrier-pigeon")

	cfg := Load()
	assert.Error(t, cfg.Validate())
}

func TestLoad_BadNumericFallsBack(t *testing.T) {
	t.Setenv("MAX_DELIVERY_ATTEMPTS", "many")
	t.Setenv("VISIBILITY_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Visibility)
}
