// Package config loads process configuration from environment variables.
// Artifact store settings are handled by the artifacts factory; everything
// else a worker role needs lives here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Channel backends.
const (
	BackendMemory = "memory"
	BackendSQS    = "sqs"
	BackendRedis  = "redis"
)

// Config holds worker configuration.
type Config struct {
	LogLevel string

	// Channel transport.
	ChannelBackend string
	Region         string // SQS region
	EvalQueue      string // queue URL or stream name per backend
	ApprovalQueue  string
	ExecQueue      string
	DeadLetter     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Delivery semantics.
	Visibility  time.Duration
	MaxAttempts int

	// Approval gate.
	ApprovalTimeout time.Duration

	// Policy: optional CEL rules, one expression per line.
	PolicyRulesFile string

	// Ingest.
	LogFile string

	// Telemetry.
	OTLPEndpoint string
	Environment  string
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	return &Config{
		LogLevel:        envOr("LOG_LEVEL", "INFO"),
		ChannelBackend:  envOr("CHANNEL_BACKEND", BackendMemory),
		Region:          envOr("AWS_REGION", "us-east-1"),
		EvalQueue:       os.Getenv("EVAL_QUEUE"),
		ApprovalQueue:   os.Getenv("APPROVAL_QUEUE"),
		ExecQueue:       os.Getenv("EXEC_QUEUE"),
		DeadLetter:      os.Getenv("DEAD_LETTER_QUEUE"),
		RedisAddr:       envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envInt("REDIS_DB", 0),
		Visibility:      envDuration("VISIBILITY_TIMEOUT", 30*time.Second),
		MaxAttempts:     envInt("MAX_DELIVERY_ATTEMPTS", 5),
		ApprovalTimeout: envDuration("APPROVAL_TIMEOUT", 24*time.Hour),
		PolicyRulesFile: os.Getenv("POLICY_RULES_FILE"),
		LogFile:         envOr("LOG_FILE", "sample.log"),
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
		Environment:     envOr("ENVIRONMENT", "development"),
	}
}

// Validate checks the fields the chosen backend requires.
func (c *Config) Validate() error {
	switch c.ChannelBackend {
	case BackendMemory:
		return nil
	case BackendSQS, BackendRedis:
		if c.EvalQueue == "" || c.ApprovalQueue == "" || c.ExecQueue == "" || c.DeadLetter == "" {
			return fmt.Errorf("config: EVAL_QUEUE, APPROVAL_QUEUE, EXEC_QUEUE and DEAD_LETTER_QUEUE are required for backend %q", c.ChannelBackend)
		}
		return nil
	default:
		return fmt.Errorf("config: unknown channel backend %q", c.ChannelBackend)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
