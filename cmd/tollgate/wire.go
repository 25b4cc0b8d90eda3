package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tollgate-labs/tollgate/pkg/artifacts"
	"github.com/tollgate-labs/tollgate/pkg/audit"
	"github.com/tollgate-labs/tollgate/pkg/channel"
	"github.com/tollgate-labs/tollgate/pkg/config"
	"github.com/tollgate-labs/tollgate/pkg/observability"
	"github.com/tollgate-labs/tollgate/pkg/pipeline"
	"github.com/tollgate-labs/tollgate/pkg/policy"
	"github.com/tollgate-labs/tollgate/pkg/scoring"
)

// app is the wired process: channels, store, policy and telemetry, from
// which the per-role workers are built.
type app struct {
	cfg        *config.Config
	store      artifacts.Store
	evalCh     channel.Channel
	approvalCh channel.Channel
	execCh     channel.Channel
	deadletter *channel.DeadLetter
	engines    policy.Engine
	static     *policy.Static
	auditor    audit.Logger
	telemetry  *observability.Provider
	closers    []func() error
}

func wire(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		static:  policy.NewStatic(),
		auditor: audit.NewLogger(),
	}

	store, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	a.store = store

	if err := a.buildChannels(ctx); err != nil {
		return nil, err
	}
	if err := a.buildPolicy(); err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Environment = cfg.Environment
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	obsCfg.Insecure = cfg.Environment == "development"
	telemetry, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	a.telemetry = telemetry

	return a, nil
}

func (a *app) buildChannels(ctx context.Context) error {
	switch a.cfg.ChannelBackend {
	case config.BackendMemory:
		dlq := channel.NewMemory()
		opts := []channel.MemoryOption{
			channel.WithVisibility(a.cfg.Visibility),
			channel.WithMaxAttempts(a.cfg.MaxAttempts),
			channel.WithDeadLetter(dlq),
		}
		a.evalCh = channel.NewMemory(opts...)
		a.approvalCh = channel.NewMemory(opts...)
		a.execCh = channel.NewMemory(opts...)
		a.deadletter = channel.NewDeadLetter(dlq, nil)
		return nil

	case config.BackendSQS:
		var chans [4]channel.Channel
		urls := []string{a.cfg.EvalQueue, a.cfg.ApprovalQueue, a.cfg.ExecQueue, a.cfg.DeadLetter}
		for i, url := range urls {
			if url == "" {
				continue
			}
			ch, err := channel.NewSQSChannel(ctx, channel.SQSConfig{
				QueueURL: url,
				Region:   a.cfg.Region,
				Endpoint: os.Getenv("SQS_ENDPOINT"),
			})
			if err != nil {
				return fmt.Errorf("sqs channel %s: %w", url, err)
			}
			chans[i] = ch
		}
		a.evalCh, a.approvalCh, a.execCh = chans[0], chans[1], chans[2]
		if chans[3] != nil {
			a.deadletter = channel.NewDeadLetter(chans[3], nil)
		}
		return nil

	case config.BackendRedis:
		consumer, _ := os.Hostname()
		if consumer == "" {
			consumer = "tollgate"
		}
		build := func(stream string) (*channel.RedisChannel, error) {
			return channel.NewRedisChannel(ctx, channel.RedisConfig{
				Addr:        a.cfg.RedisAddr,
				Password:    a.cfg.RedisPassword,
				DB:          a.cfg.RedisDB,
				Stream:      stream,
				Group:       stream + "-workers",
				Consumer:    consumer,
				Visibility:  a.cfg.Visibility,
				MaxAttempts: a.cfg.MaxAttempts,
				DLQStream:   a.cfg.DeadLetter,
			})
		}
		for _, s := range []struct {
			stream string
			dst    *channel.Channel
		}{
			{a.cfg.EvalQueue, &a.evalCh},
			{a.cfg.ApprovalQueue, &a.approvalCh},
			{a.cfg.ExecQueue, &a.execCh},
		} {
			ch, err := build(s.stream)
			if err != nil {
				return fmt.Errorf("redis channel %s: %w", s.stream, err)
			}
			*s.dst = ch
			a.closers = append(a.closers, ch.Close)
		}
		if a.cfg.DeadLetter != "" {
			dlq, err := build(a.cfg.DeadLetter)
			if err != nil {
				return fmt.Errorf("redis dead-letter channel: %w", err)
			}
			a.deadletter = channel.NewDeadLetter(dlq, nil)
			a.closers = append(a.closers, dlq.Close)
		}
		return nil

	default:
		return fmt.Errorf("unknown channel backend %q", a.cfg.ChannelBackend)
	}
}

// buildPolicy assembles the engine chain: the static thresholds always
// apply; operator CEL rules, one expression per line, tighten them further.
func (a *app) buildPolicy() error {
	chain := policy.Chain{a.static}
	if a.cfg.PolicyRulesFile != "" {
		data, err := os.ReadFile(a.cfg.PolicyRulesFile)
		if err != nil {
			return fmt.Errorf("policy rules: %w", err)
		}
		var rules []string
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			rules = append(rules, line)
		}
		if len(rules) > 0 {
			cel, err := policy.NewCELEngine(rules)
			if err != nil {
				return fmt.Errorf("policy rules: %w", err)
			}
			chain = append(chain, cel)
		}
	}
	a.engines = chain
	return nil
}

func (a *app) Producer() *pipeline.Producer {
	return pipeline.NewProducer(a.evalCh, a.auditor, nil)
}

func (a *app) EvalWorker() *pipeline.EvalWorker {
	return pipeline.NewEvalWorker(a.evalCh, a.approvalCh, a.store,
		scoring.NewEngine(), a.deadletter, a.auditor, nil).
		WithTelemetry(a.telemetry)
}

func (a *app) Gate() *pipeline.Gate {
	return pipeline.NewGate(pipeline.GateConfig{
		ApprovalChannel: a.approvalCh,
		ExecChannel:     a.execCh,
		Store:           a.store,
		Engines:         a.engines,
		Auto:            a.static,
		DeadLetter:      a.deadletter,
		Auditor:         a.auditor,
		Telemetry:       a.telemetry,
		Timeout:         a.cfg.ApprovalTimeout,
		Lease:           a.cfg.Visibility,
	})
}

func (a *app) ExecWorker() *pipeline.ExecWorker {
	return pipeline.NewExecWorker(pipeline.ExecConfig{
		ExecChannel: a.execCh,
		Store:       a.store,
		Engines:     a.engines,
		DeadLetter:  a.deadletter,
		Auditor:     a.auditor,
		Telemetry:   a.telemetry,
		Heartbeat:   a.cfg.Visibility / 2,
		Lease:       a.cfg.Visibility,
	})
}

func (a *app) Close(ctx context.Context) {
	for _, c := range a.closers {
		_ = c()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
}
